// Package banner prints the startup banner for foreground mode.
package banner

import "fmt"

const art = `
 ___ __  __ ____  _     ___ ___ ____
|_ _|  \/  |  _ \| |   / _ \_ _|  _ \
 | || |\/| | |_) | |  | | | | || | | |
 | || |  | |  __/| |__| |_| | || |_| |
|___|_|  |_|_|   |_____\___/___|____/
`

// Print writes the banner and version line to stdout.
func Print(version string) {
	fmt.Print(art)
	fmt.Printf("  GitHub issue orchestrator · %s\n\n", version)
}
