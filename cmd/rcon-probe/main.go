// rcon-probe sends one console command to a Xonotic server and prints every
// response datagram that arrives within the timeout. Useful for checking a
// password and security mode before pointing the bot at a server.
package main

import (
	"flag"
	"fmt"
	"log"
	"net"
	"time"

	"xonbot/internal/colors"
	"xonbot/internal/rcon"
)

func main() {
	address := flag.String("address", "127.0.0.1:26000", "game server address")
	password := flag.String("password", "", "rcon password")
	command := flag.String("command", "status 1", "console command to send")
	security := flag.String("security", "time", "rcon security mode: plain, time or challenge")
	timeout := flag.Duration("timeout", 2*time.Second, "how long to wait for responses")
	raw := flag.Bool("raw", false, "print responses without stripping color codes")
	flag.Parse()

	if *password == "" {
		log.Fatal("Password is required. Use -password flag")
	}
	mode, err := rcon.ParseSecurityMode(*security)
	if err != nil {
		log.Fatal(err)
	}

	addr, err := net.ResolveUDPAddr("udp", *address)
	if err != nil {
		log.Fatalf("Failed to resolve %s: %v", *address, err)
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer conn.Close()

	packet, err := buildPacket(conn, mode, *password, *command, *timeout)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("Sending %q to %s...\n", *command, *address)
	if _, err := conn.Write(packet); err != nil {
		log.Fatalf("Failed to send: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(*timeout))
	buf := make([]byte, 8192)
	got := false
	for {
		n, err := conn.Read(buf)
		if err != nil {
			break // deadline reached
		}
		body, ok := rcon.UnwrapResponse(buf[:n])
		if !ok {
			continue
		}
		if !got {
			fmt.Println("=== Response ===")
			got = true
		}
		if *raw {
			fmt.Print(string(body))
		} else {
			fmt.Print(string(colors.DpToNone(body)))
		}
	}
	if !got {
		fmt.Println("No response (wrong address, password or security mode?)")
	}
}

// buildPacket assembles the signed command packet, running the challenge
// handshake first when that mode is selected.
func buildPacket(conn *net.UDPConn, mode rcon.SecurityMode, password, command string, timeout time.Duration) ([]byte, error) {
	switch mode {
	case rcon.SecurityPlain:
		return rcon.PlainPacket(password, command), nil
	case rcon.SecurityTime:
		return rcon.SecureTimePacket(password, command, time.Now()), nil
	default:
		if _, err := conn.Write(rcon.ChallengeRequestPacket()); err != nil {
			return nil, fmt.Errorf("challenge request: %w", err)
		}
		conn.SetReadDeadline(time.Now().Add(timeout))
		buf := make([]byte, 1024)
		for {
			n, err := conn.Read(buf)
			if err != nil {
				return nil, fmt.Errorf("no challenge response: %w", err)
			}
			if challenge, ok := rcon.ParseChallenge(buf[:n]); ok {
				return rcon.SecureChallengePacket(password, challenge, command), nil
			}
		}
	}
}
