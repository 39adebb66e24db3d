package overlay

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

// controlCommandTimeout bounds every control-channel command exchange.
const controlCommandTimeout = 3 * time.Second

// controlConn is a cookie-authenticated session on the proxy's control
// channel.
type controlConn struct {
	conn   net.Conn
	reader *bufio.Reader
}

// dialControl opens the control channel and authenticates with the
// cookie-hex credential read from the data directory.
func dialControl(addr, cookiePath string) (*controlConn, error) {
	cookie, err := os.ReadFile(cookiePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read control cookie: %w", err)
	}

	conn, err := net.DialTimeout("tcp", addr, controlCommandTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to dial control channel: %w", err)
	}

	cc := &controlConn{conn: conn, reader: bufio.NewReader(conn)}
	if _, err := cc.exec("AUTHENTICATE " + hex.EncodeToString(cookie)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("control authentication failed: %w", err)
	}
	return cc, nil
}

// exec sends one command and collects the reply lines up to the final
// status line. It fails on any non-250 status.
func (c *controlConn) exec(cmd string) ([]string, error) {
	if err := c.conn.SetDeadline(time.Now().Add(controlCommandTimeout)); err != nil {
		return nil, err
	}
	if _, err := fmt.Fprintf(c.conn, "%s\r\n", cmd); err != nil {
		return nil, err
	}

	var lines []string
	for {
		line, err := c.reader.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimRight(line, "\r\n")
		if len(line) < 4 {
			return nil, fmt.Errorf("short control reply %q", line)
		}
		status, sep, body := line[:3], line[3], line[4:]
		if status != "250" {
			return nil, fmt.Errorf("control command failed: %s", line)
		}
		lines = append(lines, body)
		// ' ' terminates a reply; '-' and '+' continue it.
		if sep == ' ' {
			return lines, nil
		}
	}
}

// BootstrapProgress issues `GETINFO status/bootstrap-phase` and parses
// the PROGRESS=<int> and SUMMARY="..." tokens.
func (c *controlConn) BootstrapProgress() (int, string, error) {
	lines, err := c.exec("GETINFO status/bootstrap-phase")
	if err != nil {
		return 0, "", err
	}

	for _, line := range lines {
		idx := strings.Index(line, "PROGRESS=")
		if idx < 0 {
			continue
		}
		rest := line[idx+len("PROGRESS="):]
		end := strings.IndexByte(rest, ' ')
		if end < 0 {
			end = len(rest)
		}
		progress, err := strconv.Atoi(rest[:end])
		if err != nil {
			return 0, "", fmt.Errorf("bad PROGRESS token: %w", err)
		}

		summary := ""
		if sIdx := strings.Index(line, `SUMMARY="`); sIdx >= 0 {
			sRest := line[sIdx+len(`SUMMARY="`):]
			if sEnd := strings.IndexByte(sRest, '"'); sEnd >= 0 {
				summary = sRest[:sEnd]
			}
		}
		return progress, summary, nil
	}
	return 0, "", fmt.Errorf("no bootstrap-phase in control reply")
}

// Signal issues a SIGNAL command (ACTIVE, DORMANT, SHUTDOWN).
func (c *controlConn) Signal(name string) error {
	_, err := c.exec("SIGNAL " + name)
	return err
}

// Close terminates the control session.
func (c *controlConn) Close() error {
	return c.conn.Close()
}
