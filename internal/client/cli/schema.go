package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"text/tabwriter"
)

// readFile is a test seam for os.ReadFile.
var readFile = os.ReadFile

// List prints the user's uploaded schemas, newest first.
func (a *App) List(ctx context.Context) error {
	schemas, err := a.client.MySchemas(ctx, a.session.Token())
	if err != nil {
		fmt.Fprintln(a.out, "List failed:", errorMessage(err))
		return err
	}

	if len(schemas) == 0 {
		fmt.Fprintln(a.out, "No schemas uploaded yet")
		return nil
	}

	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tFILE\tBASE URL\tENDPOINTS\tTESTS\tUPLOADED")
	for _, s := range schemas {
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%d\t%s\n",
			s.SchemaID, s.OriginalFilename, s.BaseURL,
			s.TotalEndpoints, s.TotalTestCases, s.CreatedAt.Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

// Upload reads a schema document from disk and submits it for processing.
func (a *App) Upload(ctx context.Context) error {
	baseURL, err := getSimpleText(a.reader, "Enter API base URL", a.out)
	if err != nil {
		return err
	}
	path, err := getSimpleText(a.reader, "Enter schema file path", a.out)
	if err != nil {
		return err
	}

	content, err := readFile(path)
	if err != nil {
		fmt.Fprintln(a.out, "Cannot read file:", err.Error())
		return err
	}

	result, err := a.client.UploadSchema(ctx, a.session.Token(), baseURL, filepath.Base(path), content)
	if err != nil {
		fmt.Fprintln(a.out, "Upload failed:", errorMessage(err))
		return err
	}

	fmt.Fprintf(a.out, "%s (schema id %d)\n", result.Message, result.SchemaID)
	return nil
}

// RunFlow executes the complete test flow for a schema and prints the
// final report.
func (a *App) RunFlow(ctx context.Context) error {
	schemaID, err := a.promptID("Enter schema id")
	if err != nil {
		return err
	}

	fmt.Fprintln(a.out, "Running tests, this may take a while...")
	flow, err := a.client.CompleteTestFlow(ctx, a.session.Token(), schemaID)
	if err != nil {
		fmt.Fprintln(a.out, "Run failed:", errorMessage(err))
		return err
	}

	fmt.Fprintf(a.out, "%s (run id %d)\n", flow.Message, flow.RunID)
	return a.printJSON(flow.Report)
}

// Report prints the final report of a past run.
func (a *App) Report(ctx context.Context) error {
	runID, err := a.promptID("Enter run id")
	if err != nil {
		return err
	}

	report, err := a.client.FinalReport(ctx, a.session.Token(), runID)
	if err != nil {
		fmt.Fprintln(a.out, "Report failed:", errorMessage(err))
		return err
	}
	return a.printJSON(report)
}

func (a *App) promptID(prompt string) (int64, error) {
	text, err := getSimpleText(a.reader, prompt, a.out)
	if err != nil {
		return 0, err
	}
	id, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		fmt.Fprintln(a.out, "Not a number:", text)
		return 0, err
	}
	return id, nil
}

func (a *App) printJSON(raw json.RawMessage) error {
	if len(raw) == 0 {
		return nil
	}
	var pretty map[string]any
	if err := json.Unmarshal(raw, &pretty); err != nil {
		fmt.Fprintln(a.out, string(raw))
		return nil
	}
	indented, err := json.MarshalIndent(pretty, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, string(indented))
	return nil
}
