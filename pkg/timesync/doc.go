// Package timesync keeps the device clock trustworthy before any
// TLS-bearing network operation runs.
//
// The Service queries an NTP pool in the background and latches a
// synchronized condition once the measured clock offset falls inside
// the configured threshold. WaitForSync blocks the caller until that
// first successful synchronization.
package timesync
