// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package sampleconfig

// FileContents is a string containing the commented example config for cashd.
const FileContents = `[Application Options]

; ------------------------------------------------------------------------------
; Data settings
; ------------------------------------------------------------------------------

; The directory to store data such as the ban list.  The default is
; ~/.cashd/data on POSIX OSes, $LOCALAPPDATA/Cashd/data on Windows and
; ~/Library/Application Support/Cashd/data on macOS.  Environment variables are
; expanded so they may be used.
; datadir=~/.cashd/data

; The backend storing the ban list: file, leveldb or pebble.
; banstore=file


; ------------------------------------------------------------------------------
; Network settings
; ------------------------------------------------------------------------------

; Use testnet.
; testnet=1

; Use the regression test network.
; regtest=1


; ------------------------------------------------------------------------------
; Peer misbehavior
; ------------------------------------------------------------------------------

; How long to ban peers by default.  Valid time units are {s, m, h}.
; banduration=24h

; The misbehavior score at which a peer is discouraged.
; banscore=100

; Maximum number of peers whose misbehavior is tracked at once.
; maxpeers=1024


; ------------------------------------------------------------------------------
; Memory pool
; ------------------------------------------------------------------------------

; Maximum memory used by the transaction memory pool, in megabytes.
; maxmempool=320

; How long unconfirmed transactions may stay in the memory pool.
; mempoolexpiry=336h

; Disable creating and relaying double spend proofs.
; nodsproofs=1

; How long double spend proofs waiting for their transactions are kept.
; dsproofretention=90s

; Maximum number of double spend proofs waiting for their transactions.
; maxorphandsproofs=65535


; ------------------------------------------------------------------------------
; Debug
; ------------------------------------------------------------------------------

; Debug logging level.
; Valid levels are {trace, debug, info, warn, error, critical}
; You may also specify <subsystem>=<level>,<subsystem2>=<level>,... to set
; log level for individual subsystems.  Use cashd --debuglevel=show to list
; available subsystems.
; debuglevel=info

; The port used to listen for HTTP profile requests.  The profile server will
; be disabled if this option is not specified.  The profile information can be
; accessed at http://localhost:<profileport>/debug/pprof once running.
; profile=6061
`
