// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
)

// activeNetParams is a pointer to the parameters specific to the
// currently active Bitcoin Cash network.
var activeNetParams = &mainNetParams

// params is used to group parameters for various networks such as the main
// network and test networks.
type params struct {
	*chaincfg.Params

	// cashNet identifies the network in messages and data files.  Bitcoin
	// Cash networks use magics distinct from the chaincfg ones.
	cashNet wire.BitcoinNet
}

// mainNetParams contains parameters specific to the main network.
var mainNetParams = params{
	Params:  &chaincfg.MainNetParams,
	cashNet: 0xe8f3e1e3,
}

// testNet3Params contains parameters specific to the test network (version
// 3).
var testNet3Params = params{
	Params:  &chaincfg.TestNet3Params,
	cashNet: 0xf4f3e5f4,
}

// regressionNetParams contains parameters specific to the regression test
// network.
var regressionNetParams = params{
	Params:  &chaincfg.RegressionNetParams,
	cashNet: 0xfabfb5da,
}

// netName returns the name used when referring to a network.  Data
// directories are namespaced by it.
func netName(chainParams *params) string {
	return chainParams.Name
}
