// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

/*
store is a package providing the demo's state: the StateCache of pending
sign-in attempts and the SQLite backed UserStore of accounts that signed in.
*/
package store
