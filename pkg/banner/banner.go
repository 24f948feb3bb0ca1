package banner

import (
	"fmt"

	"chatrelay/pkg/config"
)

const banner = `
 ██████╗██╗  ██╗ █████╗ ████████╗██████╗ ███████╗██╗      █████╗ ██╗   ██╗
██╔════╝██║  ██║██╔══██╗╚══██╔══╝██╔══██╗██╔════╝██║     ██╔══██╗╚██╗ ██╔╝
██║     ███████║███████║   ██║   ██████╔╝█████╗  ██║     ███████║ ╚████╔╝
██║     ██╔══██║██╔══██║   ██║   ██╔══██╗██╔══╝  ██║     ██╔══██║  ╚██╔╝
╚██████╗██║  ██║██║  ██║   ██║   ██║  ██║███████╗███████╗██║  ██║   ██║
 ╚═════╝╚═╝  ╚═╝╚═╝  ╚═╝   ╚═╝   ╚═╝  ╚═╝╚══════╝╚══════╝╚═╝  ╚═╝   ╚═╝
`

// Print writes the startup banner with the effective runtime settings.
func Print(cfg *config.Config, version string) {
	fmt.Print(banner)
	fmt.Println("== Config =====================================================")
	fmt.Printf("Listen:    %s\n", cfg.Addr())
	fmt.Printf("DB Path:   %s\n", cfg.Server.DBPath)
	if version != "" {
		fmt.Printf("Version:   %s\n", version)
	}
	if w := cfg.Presence.Window.Duration(); w > 0 {
		fmt.Printf("Presence:  online within %s\n", w)
	}
	if rt := cfg.Calls.RingTimeout.Duration(); rt > 0 {
		fmt.Printf("Ring:      missed after %s\n", rt)
	}
	fmt.Println("\n== Endpoints ==================================================")
	fmt.Println("POST /v1/threads                         - Ensure a conversation for a pair")
	fmt.Println("POST /v1/threads/{id}/messages           - Send a message")
	fmt.Println("GET  /v1/threads/{id}/events             - Stream thread state (SSE)")
	fmt.Println("POST /v1/threads/{id}/calls              - Start a call")
	fmt.Println("POST /v1/calls/{sid}/signals             - Publish a signaling payload")
	fmt.Println("GET  /v1/calls/{sid}/signals/{role}/events - Stream a signal lane (SSE)")
	fmt.Println("POST /v1/presence/{uid}/heartbeat        - Report liveness")
	fmt.Println("GET  /metrics                            - Prometheus metrics")
	fmt.Println()
}
