package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"tipledger/core/state"
	"tipledger/gateway/middleware"
	"tipledger/native/tipping"
	"tipledger/services/reports"
	"tipledger/storage"
)

const (
	defaultRPCURL  = "http://127.0.0.1:8080/rpc"
	defaultDataDir = "./tip-data"
	tokenEnv       = "TIPCTL_TOKEN"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "tipctl: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	if len(args) < 1 {
		usage(stdout)
		return errors.New("command required")
	}
	switch args[0] {
	case "call":
		return runCall(args[1:], stdout)
	case "token":
		return runToken(args[1:], stdout)
	case "export":
		return runExport(args[1:], stdout)
	case "help", "-h", "--help":
		usage(stdout)
		return nil
	default:
		usage(stdout)
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "Usage: tipctl <command> [flags]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  call <method> [params-json]   invoke a JSON-RPC method on tipd")
	fmt.Fprintln(w, "  token --subject <account>     mint an HS256 caller token")
	fmt.Fprintln(w, "  export --out <dir>            export the ledger to parquet and csv")
}

func runCall(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("call", flag.ContinueOnError)
	url := fs.String("url", defaultRPCURL, "tipd JSON-RPC endpoint")
	token := fs.String("token", os.Getenv(tokenEnv), "bearer token (defaults to $"+tokenEnv+")")
	timeout := fs.Duration("timeout", 10*time.Second, "request timeout")
	if err := fs.Parse(args); err != nil {
		return err
	}
	rest := fs.Args()
	if len(rest) < 1 {
		return errors.New("call: method required")
	}
	method := rest[0]
	var params []json.RawMessage
	if len(rest) > 1 {
		raw := json.RawMessage(rest[1])
		if !json.Valid(raw) {
			return fmt.Errorf("call: params must be a JSON object")
		}
		params = append(params, raw)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	result, err := callRPC(ctx, http.DefaultClient, *url, *token, method, params)
	if err != nil {
		return err
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, result, "", "  "); err != nil {
		_, err = stdout.Write(append(result, '\n'))
		return err
	}
	pretty.WriteByte('\n')
	_, err = pretty.WriteTo(stdout)
	return err
}

type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *rpcError) Error() string {
	if len(e.Data) > 0 {
		return fmt.Sprintf("rpc error %d: %s (%s)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

func callRPC(ctx context.Context, client *http.Client, url, token, method string, params []json.RawMessage) (json.RawMessage, error) {
	if params == nil {
		params = []json.RawMessage{}
	}
	body, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
		"params":  params,
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token = strings.TrimSpace(token); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	defer resp.Body.Close()
	var envelope struct {
		Result json.RawMessage `json:"result"`
		Error  *rpcError       `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("call %s: decode response (status %d): %w", method, resp.StatusCode, err)
	}
	if envelope.Error != nil {
		return nil, envelope.Error
	}
	return envelope.Result, nil
}

func runToken(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	subject := fs.String("subject", "", "caller account the token authenticates")
	secret := fs.String("secret", "", "HMAC secret (overrides --secret-env)")
	secretEnv := fs.String("secret-env", "TIPD_JWT_SECRET", "environment variable holding the HMAC secret")
	issuer := fs.String("issuer", "tipledger", "token issuer")
	audience := fs.String("audience", "", "token audience")
	ttl := fs.Duration("ttl", time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	key := strings.TrimSpace(*secret)
	if key == "" {
		key = strings.TrimSpace(os.Getenv(*secretEnv))
	}
	token, err := middleware.SignToken(key, *issuer, *audience, *subject, *ttl, time.Now())
	if err != nil {
		return fmt.Errorf("token: %w", err)
	}
	_, err = fmt.Fprintln(stdout, token)
	return err
}

// runExport opens the ledger database directly. tipd must not hold the
// database open while this runs.
func runExport(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	dataDir := fs.String("data-dir", defaultDataDir, "tipd data directory")
	out := fs.String("out", "", "output directory")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*out) == "" {
		return errors.New("export: --out required")
	}
	db, err := storage.NewLevelDB(filepath.Join(*dataDir, "ledger"))
	if err != nil {
		return err
	}
	defer db.Close()

	engine, err := tipping.NewEngine(tipping.DefaultConfig())
	if err != nil {
		return err
	}
	engine.SetState(state.NewManager(db))
	summary, err := reports.Export(engine.Queries(), *out)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(stdout, "exported %d tips to %s and %s\n", summary.Rows, summary.ParquetPath, summary.CSVPath)
	return err
}
