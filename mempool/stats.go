// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mempool

// feeRateBuckets holds the lower bounds, in satoshi per kilobyte, of the
// buckets of the fee histogram.
var feeRateBuckets = []int64{
	0, 1000, 2000, 5000, 10000, 20000, 50000, 100000, 1000000,
}

// FeeBucket is one bucket of the fee histogram.
type FeeBucket struct {
	// MinFeeRate is the lowest modified fee rate, in satoshi per
	// kilobyte, of the bucket.
	MinFeeRate int64

	Count int
	Bytes int64
}

// poolStats is a summary of the pool that may be read without the pool lock.
type poolStats struct {
	count   int
	bytes   int64
	buckets []FeeBucket
}

func newPoolStats() poolStats {
	buckets := make([]FeeBucket, len(feeRateBuckets))
	for i, rate := range feeRateBuckets {
		buckets[i].MinFeeRate = rate
	}
	return poolStats{buckets: buckets}
}

// feeBucketIndex returns the histogram bucket of the passed fee rate.
// Negative rates fall in the first bucket.
func feeBucketIndex(feePerKB int64) int {
	idx := 0
	for i, rate := range feeRateBuckets {
		if feePerKB >= rate {
			idx = i
		}
	}
	return idx
}

// statsAdd accounts for an entry joining the pool.
func (mp *TxMempool) statsAdd(desc *TxDesc) {
	mp.statsMtx.Lock()
	mp.stats.count++
	mp.stats.bytes += desc.size
	bucket := &mp.stats.buckets[feeBucketIndex(desc.FeePerKB())]
	bucket.Count++
	bucket.Bytes += desc.size
	mp.statsMtx.Unlock()
}

// statsRemove accounts for an entry leaving the pool.  The entry must still
// have the fee rate it was added with.
func (mp *TxMempool) statsRemove(desc *TxDesc) {
	mp.statsMtx.Lock()
	mp.stats.count--
	mp.stats.bytes -= desc.size
	bucket := &mp.stats.buckets[feeBucketIndex(desc.FeePerKB())]
	bucket.Count--
	bucket.Bytes -= desc.size
	mp.statsMtx.Unlock()
}

// Count returns the number of transactions in the pool.
//
// This function is safe for concurrent access.
func (mp *TxMempool) Count() int {
	mp.statsMtx.RLock()
	defer mp.statsMtx.RUnlock()
	return mp.stats.count
}

// Bytes returns the total serialized size of the transactions in the
// pool.
//
// This function is safe for concurrent access.
func (mp *TxMempool) Bytes() int64 {
	mp.statsMtx.RLock()
	defer mp.statsMtx.RUnlock()
	return mp.stats.bytes
}

// FeeHistogram returns the number and size of the pool transactions by
// modified fee rate.
//
// This function is safe for concurrent access.
func (mp *TxMempool) FeeHistogram() []FeeBucket {
	mp.statsMtx.RLock()
	defer mp.statsMtx.RUnlock()

	buckets := make([]FeeBucket, len(mp.stats.buckets))
	copy(buckets, mp.stats.buckets)
	return buckets
}
