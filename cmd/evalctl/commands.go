package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"assesslab/internal/app"
	"assesslab/internal/config"
	"assesslab/internal/csvexport"
	"assesslab/internal/docconvert"
	"assesslab/internal/domain"
	"assesslab/internal/handler"
	"assesslab/internal/logger"
	"assesslab/internal/signer"
)

func evaluateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Evaluate one request body in-process and print the result",
		RunE:  runEvaluate,
	}
	f := cmd.Flags()
	f.StringP("file", "f", "", "Path to an evaluate-paper request JSON file (- for stdin)")
	f.StringP("output", "o", "-", "Output file path (- for stdout, auto for a generated CSV name)")
	f.String("format", "json", "Output format (json, csv)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func signCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Print SigV4 headers for a model invocation payload",
		RunE:  runSign,
	}
	f := cmd.Flags()
	f.StringP("payload", "p", "-", "Payload file (- for stdin)")
	f.String("path", "", "Request path (default /model/{model_id}/invoke)")
	return cmd
}

func classifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "classify URL",
		Short: "Classify a document URL and resolve its page images",
		Args:  cobra.ExactArgs(1),
		RunE:  runClassify,
	}
	cmd.Flags().Bool("offline", false, "Classify by extension only without probing the URL")
	return cmd
}

func loadConfig(cmd *cobra.Command) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
		cfg.Log.Level = lvl
	}
	zl, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, nil, fmt.Errorf("build logger: %w", err)
	}
	return cfg, zl, nil
}

func runEvaluate(cmd *cobra.Command, _ []string) error {
	cfg, zl, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = zl.Sync() }()

	file, _ := cmd.Flags().GetString("file")
	body, err := readInput(cmd, file)
	if err != nil {
		return err
	}
	var req domain.EvaluationRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return fmt.Errorf("parse request: %w", err)
	}

	ctx := cmd.Context()
	a, err := app.New(ctx, cfg, zl)
	if err != nil {
		return err
	}
	defer a.Close()

	format, _ := cmd.Flags().GetString("format")
	if format != "json" && format != "csv" {
		return fmt.Errorf("unknown format %q", format)
	}

	resp, err := a.Pipeline.Evaluate(ctx, &req)
	if err != nil {
		status, errBody, _ := handler.MapPipelineError(err)
		_ = writeJSON(cmd.ErrOrStderr(), errBody)
		return fmt.Errorf("evaluation failed with status %d: %w", status, err)
	}

	out, _ := cmd.Flags().GetString("output")
	if out == "auto" {
		out = csvexport.BuildFilename(resp, time.Now())
	}
	w, closeOut, err := openOutput(cmd, out)
	if err != nil {
		return err
	}
	defer closeOut()

	if format == "csv" {
		return writeCSV(w, resp)
	}
	return writeJSON(w, resp)
}

func runSign(cmd *cobra.Command, _ []string) error {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	payloadFile, _ := cmd.Flags().GetString("payload")
	payload, err := readInput(cmd, payloadFile)
	if err != nil {
		return err
	}

	base, err := url.Parse(cfg.Model.BaseURL())
	if err != nil {
		return fmt.Errorf("parse model endpoint: %w", err)
	}
	path, _ := cmd.Flags().GetString("path")
	if path == "" {
		path = "/model/" + cfg.Model.ModelID + "/invoke"
	}

	headers, err := signer.New().Sign(signer.Request{
		Method:  "POST",
		Host:    base.Host,
		Path:    path,
		Payload: payload,
	}, signer.Credentials{
		AccessKeyID:     cfg.Model.AccessKeyID,
		SecretAccessKey: cfg.Model.SecretAccessKey,
		Region:          cfg.Model.Region,
		Service:         cfg.Model.Service,
	})
	if err != nil {
		return err
	}

	names := make([]string, 0, len(headers))
	for k := range headers {
		names = append(names, k)
	}
	sort.Strings(names)
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "POST https://%s%s\n", base.Host, signer.EscapePath(path))
	for _, k := range names {
		fmt.Fprintf(w, "%s: %s\n", k, headers.Get(k))
	}
	return nil
}

func runClassify(cmd *cobra.Command, args []string) error {
	target := args[0]
	w := cmd.OutOrStdout()

	if offline, _ := cmd.Flags().GetBool("offline"); offline {
		fmt.Fprintln(w, docconvert.Classify(target, ""))
		return nil
	}

	cfg, zl, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	conv := docconvert.New(cfg.Pipeline.HeadTimeout, nil, zl)

	ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
	defer cancel()

	file, err := conv.CheckRemoteFile(ctx, target)
	if err != nil {
		return err
	}
	if !file.Exists {
		return fmt.Errorf("%s: %w", target, domain.ErrDocumentAccess)
	}
	fmt.Fprintf(w, "kind: %s\ncontent-type: %s\n", docconvert.Classify(target, file.ContentType), file.ContentType)

	pages, err := conv.ResolvePagesAsImages(ctx, target)
	if err != nil {
		return err
	}
	for _, p := range pages {
		fmt.Fprintf(w, "page: %s\n", p)
	}
	return nil
}

func readInput(cmd *cobra.Command, name string) ([]byte, error) {
	if name == "-" || name == "" {
		return io.ReadAll(cmd.InOrStdin())
	}
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return data, nil
}

func openOutput(cmd *cobra.Command, name string) (io.Writer, func(), error) {
	if name == "-" || name == "" {
		return cmd.OutOrStdout(), func() {}, nil
	}
	f, err := os.Create(name)
	if err != nil {
		return nil, nil, fmt.Errorf("create output: %w", err)
	}
	return f, func() { _ = f.Close() }, nil
}

func writeCSV(w io.Writer, resp *domain.EvaluationResponse) error {
	if _, err := w.Write(csvexport.BOM); err != nil {
		return err
	}
	cw := csvexport.NewWriter(w)
	if err := cw.WriteHeader(); err != nil {
		return err
	}
	if err := cw.WriteEvaluation(resp); err != nil {
		return err
	}
	cw.Flush()
	return cw.Error()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
