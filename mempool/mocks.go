// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mempool

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/stretchr/testify/mock"
)

// MockBatchUpdater is a mock implementation of the BatchUpdater interface.
type MockBatchUpdater struct {
	mock.Mock
}

// Ensure the MockBatchUpdater implements the BatchUpdater interface.
var _ BatchUpdater = (*MockBatchUpdater)(nil)

// RemoveForBlock records the call.
func (m *MockBatchUpdater) RemoveForBlock(txns []*btcutil.Tx, height int32) {
	m.Called(txns, height)
}
