// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

/*
Package sampleconfig provides a single constant that contains the contents of
the sample configuration file for cashd.  It is written as the default
configuration file the first time cashd starts without one.
*/
package sampleconfig
