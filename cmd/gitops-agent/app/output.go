package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"golang.org/x/term"
	"sigs.k8s.io/yaml"

	"github.com/stacklok/gitops-agent/internal/httpclient"
)

const (
	formatText = "text"
	formatJSON = "json"
	formatYAML = "yaml"

	clientTimeout = 10 * time.Second
)

// getJSON fetches path from the agent configured by --server and decodes the body into out
func getJSON(ctx context.Context, path string, out any) error {
	base := strings.TrimSuffix(viper.GetString("server"), "/")
	if base == "" {
		base = defaultServerURL
	}

	body, err := httpclient.NewDefaultClient(clientTimeout).Get(ctx, base+path)
	if err != nil {
		return fmt.Errorf("failed to query agent at %s: %w", base, err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode agent response: %w", err)
	}
	return nil
}

// writeStructured prints v as JSON or YAML. It reports false for the text format.
func writeStructured(w io.Writer, format string, v any) (bool, error) {
	switch format {
	case formatJSON:
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return true, err
		}
		_, err = fmt.Fprintln(w, string(data))
		return true, err
	case formatYAML:
		// sigs.k8s.io/yaml goes through the json tags, so both formats share field names
		data, err := yaml.Marshal(v)
		if err != nil {
			return true, err
		}
		_, err = w.Write(data)
		return true, err
	case formatText, "":
		return false, nil
	default:
		return true, fmt.Errorf("unsupported output format %q (text, json, yaml)", format)
	}
}

// terminalWidth returns the width of w when it is a terminal, or 0
func terminalWidth(w io.Writer) int {
	f, ok := w.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return 0
	}
	width, _, err := term.GetSize(int(f.Fd()))
	if err != nil {
		return 0
	}
	return width
}

// truncate shortens s to at most n runes. n <= 0 disables truncation.
func truncate(s string, n int) string {
	s, _, _ = strings.Cut(s, "\n")
	if n <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	if n <= 3 {
		return string(runes[:n])
	}
	return string(runes[:n-3]) + "..."
}

func shortSHA(sha string) string {
	if len(sha) > 8 {
		return sha[:8]
	}
	return sha
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.DateTime)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
