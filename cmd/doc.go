/*
Package cmd hosts the analyzer CLI.

Architecture overview:
  - Configuration: internal/config loads a .env file, then Viper merges defaults, an optional config file
    and ANALYZER_* environment variables. Legacy bare names (SPREADSHEET_ID, OPENAI_API_KEY, ...) still work.
  - Services: internal/app wires the Sheets row store, the project fetcher (colly over HTTP, or a chromedp
    browser session), the go-openai report generator and an optional record archive (memory/local/GCS).
  - Batch: internal/pipeline scans pending rows and processes them strictly one at a time with fixed pauses
    between stages. Row failures are counted and marked in the sheet; the batch continues.
  - Observability: zap logs carry the run id; Prometheus counters are pushed to a Pushgateway when
    metrics.pushgateway_url is set.

Quick checklist:
  - Set ANALYZER_SHEETS_SPREADSHEET_ID and ANALYZER_OPENAI_API_KEY (or the legacy names).
  - Provide Google credentials through sheets.credentials_json, sheets.credentials_file or ADC.
  - Run: go run . run --config config.yaml
*/
package cmd
