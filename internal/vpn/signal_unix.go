//go:build !windows

package vpn

import "syscall"

// terminateSignal is the graceful stop request delivered before escalating
// to a forceful kill.
var terminateSignal = syscall.SIGTERM
