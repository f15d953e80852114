package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"
)

func newAPICmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "api <path>",
		Short: "Make an authorized request to the backend",
		Long: `Send a request to any backend endpoint with the stored credential and
print the response body. Paths are relative to api_url; absolute URLs are
refused so the credential never leaves the configured server.

A 401 response logs you out, like in every other command.

Examples:
  bodega api /itembatches
  bodega api /ingreso -X POST -d '{"itemBatchId":"b1","quantity":4}'
  bodega api /egreso -X POST -d @movement.json
  bodega api /stockmovements --query '#.quantity'`,
		Args: cobra.ExactArgs(1),
		RunE: withRuntime(runtimeOptions{}, runAPI),
	}

	cmd.Flags().StringP("method", "X", http.MethodGet, "HTTP method")
	cmd.Flags().StringP("data", "d", "", "JSON request body, @file to read a file or @- for stdin")
	cmd.Flags().StringP("query", "q", "", "gjson path applied to the response body")
	cmd.Flags().BoolP("include", "i", false, "print the response status and headers")
	return cmd
}

func runAPI(cmd *cobra.Command, args []string, cc *CommandContext, rt *runtime) error {
	method, _ := cmd.Flags().GetString("method")
	data, _ := cmd.Flags().GetString("data")
	query, _ := cmd.Flags().GetString("query")
	include, _ := cmd.Flags().GetBool("include")

	body, err := requestBody(cmd, data)
	if err != nil {
		return err
	}
	if len(body) > 0 && !json.Valid(body) {
		return fmt.Errorf("invalid argument: --data is not valid JSON")
	}

	resp, err := rt.client.Raw(rt.ctx, strings.ToUpper(method), args[0], body)
	if err != nil {
		return err
	}

	if include {
		writeStatus(cmd.OutOrStdout(), resp.Status, resp.Header)
	}
	if err := resp.Err(); err != nil {
		return err
	}
	if len(resp.Body) == 0 {
		return nil
	}

	if query == "" {
		return cc.Output(cmd, json.RawMessage(resp.Body))
	}

	if !gjson.ValidBytes(resp.Body) {
		return fmt.Errorf("response is not JSON; --query needs a JSON body")
	}
	result := gjson.GetBytes(resp.Body, query)
	if !result.Exists() {
		return fmt.Errorf("query %q matched nothing", query)
	}
	if cc.Format == "text" && !result.IsObject() && !result.IsArray() {
		return cc.Output(cmd, result.String())
	}
	return cc.Output(cmd, json.RawMessage(result.Raw))
}

func requestBody(cmd *cobra.Command, data string) ([]byte, error) {
	switch {
	case data == "":
		return nil, nil
	case data == "@-":
		return io.ReadAll(cmd.InOrStdin())
	case strings.HasPrefix(data, "@"):
		b, err := os.ReadFile(strings.TrimPrefix(data, "@"))
		if err != nil {
			return nil, fmt.Errorf("failed to read request body: %w", err)
		}
		return b, nil
	default:
		return []byte(data), nil
	}
}

func writeStatus(w io.Writer, status int, header http.Header) {
	fmt.Fprintf(w, "HTTP %d %s\n", status, http.StatusText(status))
	keys := make([]string, 0, len(header))
	for k := range header {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "%s: %s\n", k, strings.Join(header[k], ", "))
	}
	fmt.Fprintln(w)
}
