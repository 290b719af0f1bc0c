package banner

import (
	"fmt"
	"net"
)

const banner = `
 ██████╗ ██████╗ ███╗   ██╗██╗   ██╗ ██████╗     ███████╗██╗   ██╗███╗   ██╗ ██████╗
██╔════╝██╔═══██╗████╗  ██║██║   ██║██╔═══██╗    ██╔════╝╚██╗ ██╔╝████╗  ██║██╔════╝
██║     ██║   ██║██╔██╗ ██║██║   ██║██║   ██║    ███████╗ ╚████╔╝ ██╔██╗ ██║██║
██║     ██║   ██║██║╚██╗██║╚██╗ ██╔╝██║   ██║    ╚════██║  ╚██╔╝  ██║╚██╗██║██║
╚██████╗╚██████╔╝██║ ╚████║ ╚████╔╝ ╚██████╔╝    ███████║   ██║   ██║ ╚████║╚██████╗
 ╚═════╝ ╚═════╝ ╚═╝  ╚═══╝  ╚═══╝   ╚═════╝     ╚══════╝   ╚═╝   ╚═╝  ╚═══╝ ╚═════╝
`

// Print writes the startup banner with the effective runtime info.
func Print(addr, dataPath, primaryState, sources, version string) {
	fmt.Print(banner)
	fmt.Println("== Config =====================================================")
	fmt.Printf("Listen:    %s\n", addr)
	fmt.Printf("Data path: %s\n", dataPath)
	fmt.Printf("Primary:   %s\n", primaryState)
	if version != "" {
		fmt.Printf("Version:   %s\n", version)
	}
	if sources != "" {
		fmt.Printf("Config sources: %s\n", sources)
	}
	fmt.Println("\n== Endpoints ==================================================")
	fmt.Println("POST   /v1/chat                  - Send a message, get the assistant reply")
	fmt.Println("GET    /v1/messages              - Full message tree plus active id")
	fmt.Println("GET    /v1/path                  - Active conversation path")
	fmt.Println("POST   /v1/messages/{id}/select  - Re-root the active path")
	fmt.Println("DELETE /v1/messages/{id}         - Delete a message")
	fmt.Println("POST   /v1/sync?mode=...         - Foreground sync (incremental|full|resolve)")
	fmt.Println("GET    /v1/sync/status           - Sync and loading state")
	base := exampleBase(addr)
	fmt.Println("\n== Examples ===================================================")
	fmt.Printf("curl -X POST '%s/v1/chat' -d '{\"text\": \"hello\"}'\n", base)
	fmt.Printf("curl '%s/v1/sync/status'\n", base)
}

// exampleBase turns a listen address into a URL a local curl can hit.
// Wildcard and empty hosts become localhost.
func exampleBase(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://" + addr
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, port)
}
