// Package httpx serves one request per connection: it reads the request line,
// matches it exactly against two routes and writes a static page back.
package httpx

import (
	"bufio"
	"embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	StatusOK       = "HTTP/1.1 200 OK"
	StatusNotFound = "HTTP/1.1 404 Not Found"

	HelloPage    = "hello.html"
	NotFoundPage = "404.html"

	RequestRoot  = "GET / HTTP/1.1"
	RequestSleep = "GET /sleep HTTP/1.1"
)

// MaxRequestLine is the longest request line ReadRequestLine accepts,
// line ending included.
const MaxRequestLine = 8 << 10

// ErrRequestLineTooLong is returned when no newline arrives within MaxRequestLine bytes.
var ErrRequestLineTooLong = errors.New("httpx: request line too long")

//go:embed pages/*.html
var builtinPages embed.FS

// Config configures a Handler.
type Config struct {
	Root         string        // Directory holding hello.html and 404.html
	SleepDelay   time.Duration // Delay applied to GET /sleep
	ReadTimeout  time.Duration // Deadline for reading the request line, 0 disables
	WriteTimeout time.Duration // Deadline for writing the response, 0 disables
}

// DefaultConfig returns the settings of the original server.
func DefaultConfig() Config {
	return Config{
		Root:         ".",
		SleepDelay:   5 * time.Second,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
}

// Route is the outcome of matching a request line.
type Route struct {
	Status string
	Page   string
	Sleep  bool
}

// Match maps a request line to its route. Matching is exact; everything that
// is not one of the two known lines is a 404.
func Match(requestLine string) Route {
	switch requestLine {
	case RequestRoot:
		return Route{Status: StatusOK, Page: HelloPage}
	case RequestSleep:
		return Route{Status: StatusOK, Page: HelloPage, Sleep: true}
	default:
		return Route{Status: StatusNotFound, Page: NotFoundPage}
	}
}

// Handler serves a single request on a connection.
type Handler struct {
	cfg Config
	log *slog.Logger
}

// New creates a Handler.
func New(cfg Config, log *slog.Logger) *Handler {
	if cfg.Root == "" {
		cfg.Root = "."
	}
	if log == nil {
		log = slog.Default()
	}
	return &Handler{cfg: cfg, log: log}
}

// ServeConn reads one request line from conn and writes the response.
// The caller owns conn and closes it.
func (h *Handler) ServeConn(conn net.Conn) error {
	if h.cfg.ReadTimeout > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout)); err != nil {
			return fmt.Errorf("set read deadline: %w", err)
		}
	}

	line, err := ReadRequestLine(conn)
	if err != nil {
		return fmt.Errorf("read request line: %w", err)
	}

	route := Match(line)
	h.log.Debug("Request", "line", line, "status", route.Status, "remote", conn.RemoteAddr())

	if route.Sleep && h.cfg.SleepDelay > 0 {
		time.Sleep(h.cfg.SleepDelay)
	}

	body, err := h.Page(route.Page)
	if err != nil {
		return fmt.Errorf("load page %s: %w", route.Page, err)
	}

	if h.cfg.WriteTimeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout)); err != nil {
			return fmt.Errorf("set write deadline: %w", err)
		}
	}
	if _, err := io.WriteString(conn, FormatResponse(route.Status, body)); err != nil {
		return fmt.Errorf("write response: %w", err)
	}
	return nil
}

// Page returns the contents of a page, preferring the file under Root and
// falling back to the built-in copy when the file does not exist.
func (h *Handler) Page(name string) (string, error) {
	data, err := os.ReadFile(filepath.Join(h.cfg.Root, name))
	if err == nil {
		return string(data), nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return "", err
	}

	data, err = builtinPages.ReadFile("pages/" + name)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ReadRequestLine reads the first line of a request without its line ending.
// A connection closed before any newline yields whatever was read, possibly "".
// At most MaxRequestLine bytes are read.
func ReadRequestLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(io.LimitReader(r, MaxRequestLine)).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	if err != nil && len(line) == MaxRequestLine {
		return "", ErrRequestLineTooLong
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// FormatResponse renders a status line, a Content-Length header and the body.
func FormatResponse(status, body string) string {
	return fmt.Sprintf("%s\r\nContent-Length: %d\r\n\r\n%s", status, len(body), body)
}
