// Command idvrelay-sign produces a signed webhook request for exercising a
// running relay. It signs the exact body bytes it prints.
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/idvrelay/idvrelay/internal/webhook"
)

const secretEnv = "IDVRELAY_WEBHOOK_SECRET"

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout, os.Getenv, time.Now); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type samplePayload struct {
	SessionID  string `json:"session_id"`
	Status     string `json:"status"`
	VendorData string `json:"vendor_data"`
	CreatedAt  int64  `json:"created_at"`
}

func run(args []string, stdin io.Reader, stdout io.Writer, getenv func(string) string, now func() time.Time) error {
	fs := flag.NewFlagSet("idvrelay-sign", flag.ContinueOnError)
	fs.SetOutput(stdout)

	var (
		secret     string
		file       string
		sessionID  string
		status     string
		vendorData string
		url        string
	)
	fs.StringVar(&secret, "secret", "", "webhook secret (default $"+secretEnv+")")
	fs.StringVar(&file, "file", "", "body to sign; \"-\" reads stdin (default: generated sample)")
	fs.StringVar(&sessionID, "session", "", "session_id for the generated sample (default: random)")
	fs.StringVar(&status, "status", "Approved", "status for the generated sample")
	fs.StringVar(&vendorData, "vendor-data", "some_user", "vendor_data for the generated sample")
	fs.StringVar(&url, "url", "http://localhost:8080/webhook", "webhook URL for the printed curl command")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if secret == "" {
		secret = getenv(secretEnv)
	}
	if secret == "" {
		return errors.New("webhook secret is required (-secret or " + secretEnv + ")")
	}

	body, err := loadBody(file, stdin)
	if err != nil {
		return err
	}
	if body == nil {
		if sessionID == "" {
			sessionID = uuid.NewString()
		}
		body, err = json.Marshal(samplePayload{
			SessionID:  sessionID,
			Status:     status,
			VendorData: vendorData,
			CreatedAt:  now().Unix(),
		})
		if err != nil {
			return fmt.Errorf("encoding sample payload: %w", err)
		}
	}

	signature := webhook.Sign([]byte(secret), body)

	fmt.Fprintf(stdout, "%s: %s\n", webhook.SignatureHeader, signature)
	fmt.Fprintf(stdout, "\nPayload: %s\n", body)
	fmt.Fprintf(stdout, "\ncurl -sS -X POST %s -H 'Content-Type: application/json' -H '%s: %s' --data-binary '%s'\n",
		url, webhook.SignatureHeader, signature, body)
	return nil
}

func loadBody(file string, stdin io.Reader) ([]byte, error) {
	switch file {
	case "":
		return nil, nil
	case "-":
		body, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("reading stdin: %w", err)
		}
		return body, nil
	default:
		body, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", file, err)
		}
		return body, nil
	}
}
