// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mempool

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
)

// NotificationType represents the type of a notification message.
type NotificationType int

// NotificationCallback is used for a caller to provide a callback for
// notifications about various mempool events.  Callbacks run with the pool
// lock held and must not call back into the pool.
type NotificationCallback func(*Notification)

// Constants for the type of a notification message.
const (
	// NTTxAdded indicates a transaction was added to the pool.
	NTTxAdded NotificationType = iota

	// NTTxRemoved indicates a transaction left the pool.
	NTTxRemoved
)

// notificationTypeStrings is a map of notification types back to their constant
// names for pretty printing.
var notificationTypeStrings = map[NotificationType]string{
	NTTxAdded:   "NTTxAdded",
	NTTxRemoved: "NTTxRemoved",
}

// String returns the NotificationType in human-readable form.
func (n NotificationType) String() string {
	if s, ok := notificationTypeStrings[n]; ok {
		return s
	}
	return fmt.Sprintf("Unknown Notification Type (%d)", int(n))
}

// TxRemovedData is the data of an NTTxRemoved notification.
type TxRemovedData struct {
	Tx     *btcutil.Tx
	Reason RemovalReason
}

// Notification defines notification that is sent to the caller via the callback
// function provided during the call to Subscribe and consists of a notification
// type as well as associated data that depends on the type as follows:
//   - NTTxAdded:   *TxDesc
//   - NTTxRemoved: *TxRemovedData
type Notification struct {
	Type NotificationType
	Data interface{}
}

// Subscribe registers callback to be notified of pool events.
func (mp *TxMempool) Subscribe(callback NotificationCallback) {
	mp.notificationsLock.Lock()
	mp.notifications = append(mp.notifications, callback)
	mp.notificationsLock.Unlock()
}

// sendNotification sends a notification of the passed type and data to every
// subscriber.
func (mp *TxMempool) sendNotification(typ NotificationType, data interface{}) {
	n := Notification{Type: typ, Data: data}
	mp.notificationsLock.RLock()
	for _, callback := range mp.notifications {
		callback(&n)
	}
	mp.notificationsLock.RUnlock()
}
