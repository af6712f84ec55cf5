// vtxctl is the CLI entrypoint for the transactional update engine: it
// wires the page store, buffer manager, log manager and transaction manager
// together via vtxdb.Open, running crash recovery once at startup, and
// exposes subcommands mirroring the transaction lifecycle of spec.md §4.5.
// Grounded on luigitni-simpledb/cmd/simpledb/main.go's signal-handling
// shutdown and luigitni-simpledb/db/db.go's fresh-vs-recover branch.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/luigitni/vtxlog/catalog"
	"github.com/luigitni/vtxlog/config"
	"github.com/luigitni/vtxlog/vtxdb"
)

func main() {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	var configPath string
	flag.StringVar(&configPath, "config", "vtxlog.yaml", "path to the config file")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fatal(err)
	}

	db, err := vtxdb.Open(cfg)
	if err != nil {
		fatal(err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error().Err(err).Msg("closing database")
		}
	}()

	switch args[0] {
	case "create-dataset":
		runCreateDataset(db, args[1:])
	case "begin":
		runBegin(db)
	case "update":
		runUpdate(db, args[1:])
	case "commit":
		runCommit(db, args[1:])
	case "abort":
		runAbort(db, args[1:])
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: vtxctl [-config path] <command> [args]

commands:
  create-dataset -file URL -width W -height H [-has-lsn]
  begin
  update -txn N -file URL -width W -height H [-has-lsn] -fn NAME -start S -end E
  commit -txn N
  abort -txn N`)
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}

func datasetFlags(fs *flag.FlagSet) (file *string, width, height *int, hasLSN *bool) {
	file = fs.String("file", "", "dataset file url")
	width = fs.Int("width", 0, "frame width in pixels")
	height = fs.Int("height", 0, "frame height in pixels")
	hasLSN = fs.Bool("has-lsn", true, "whether the dataset carries an lsn column")
	return
}

func runCreateDataset(db *vtxdb.DB, rawArgs []string) {
	fs := flag.NewFlagSet("create-dataset", flag.ExitOnError)
	file, width, height, hasLSN := datasetFlags(fs)
	fs.Parse(rawArgs)

	meta := catalog.NewMetadata(*file, *height, *width, *hasLSN)
	if err := db.Store.Create(meta); err != nil {
		fatal(err)
	}
	fmt.Println("created", *file)
}

func runBegin(db *vtxdb.DB) {
	txnID, err := db.Txn.Begin()
	if err != nil {
		fatal(err)
	}
	fmt.Println(txnID)
}

func runUpdate(db *vtxdb.DB, rawArgs []string) {
	fs := flag.NewFlagSet("update", flag.ExitOnError)
	txnID := fs.Uint("txn", 0, "transaction id")
	file, width, height, hasLSN := datasetFlags(fs)
	fn := fs.String("fn", "", "operation name")
	start := fs.Int("start", 0, "first frame id, inclusive")
	end := fs.Int("end", 0, "last frame id, inclusive")
	fs.Parse(rawArgs)

	meta := catalog.NewMetadata(*file, *height, *width, *hasLSN)
	args := catalog.NewUpdateArgs(*fn, *start, *end, nil)

	if err := db.Txn.Update(uint32(*txnID), meta, args); err != nil {
		fatal(err)
	}
	fmt.Println("ok")
}

func runCommit(db *vtxdb.DB, rawArgs []string) {
	fs := flag.NewFlagSet("commit", flag.ExitOnError)
	txnID := fs.Uint("txn", 0, "transaction id")
	fs.Parse(rawArgs)

	if err := db.Txn.Commit(uint32(*txnID)); err != nil {
		fatal(err)
	}
	fmt.Println("committed", *txnID)
}

func runAbort(db *vtxdb.DB, rawArgs []string) {
	fs := flag.NewFlagSet("abort", flag.ExitOnError)
	txnID := fs.Uint("txn", 0, "transaction id")
	fs.Parse(rawArgs)

	if err := db.Txn.Abort(uint32(*txnID)); err != nil {
		fatal(err)
	}
	fmt.Println("aborted", *txnID)
}
