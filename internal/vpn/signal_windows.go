//go:build windows

package vpn

import "os"

// Windows cannot deliver SIGTERM; Signal returns an error for os.Interrupt
// on started processes, so Terminate falls through to the forceful kill.
var terminateSignal = os.Interrupt
