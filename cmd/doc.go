// Package cmd defines the sitemirror command line.
//
// Architecture overview:
//   - Frontier: one goroutine owns the visited set and the FIFO of pending
//     URLs. Workers acquire a URL, run fetch, rewrite and write on it, and
//     release it; the run ends when nothing is pending and nothing is in flight.
//   - Path mapping: every in-scope URL maps to exactly one file under the
//     output root. Directory URLs become index.html.
//   - Page processing: links are queued and made root-relative, embedded
//     assets are downloaded next to the page, lazy images are swapped for
//     their noscript fallback.
//   - Progress: workers emit events into a batching hub that feeds the log,
//     Prometheus, the terminal bar, the live status and the run manifest.
//   - Configuration: Viper merges defaults, an optional config file,
//     SITEMIRROR_* environment variables and flags, in that order.
//
// Operational notes:
//   - A page failure aborts the run unless --skip-failed-pages is set. The
//     seed page failing is always fatal. Asset failures never are.
//   - SIGINT and SIGTERM cancel the run; workers stop after their current step
//     and the manifest is still written.
//   - --metrics-addr starts the status server (/healthz, /metrics, /status).
package cmd
