package cmd

import (
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"db-clone/internal/config"
	"db-clone/internal/dialect"
	"db-clone/internal/engine"
	"db-clone/internal/exclusion"
	"db-clone/internal/object"

	"github.com/gosuri/uiprogress"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

var (
	dryRun     bool
	noProgress bool
	mode       string
	reportFile string
	properties []string
	rootParams []string
)

var copyCmd = &cobra.Command{
	Use:   "copy",
	Short: "Copy the configured structure",
	Long: `Fetches every row reachable from the configured root and writes it again with new ids.
In duplicate mode the copy is written to the active database; in export mode to export_target.
The copy runs in one transaction and is rolled back on any error or on Ctrl-C.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load(viper.GetViper(), "copy")
		if err != nil {
			return err
		}
		if mode != "" {
			c.Mode = mode
		}
		for _, p := range properties {
			if err := c.SetProperty(p); err != nil {
				return err
			}
		}
		if len(rootParams) > 0 {
			c.Root.Params = make([]any, len(rootParams))
			for i, p := range rootParams {
				c.Root.Params[i] = config.ParseValue(p)
			}
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		// 0. Get Dialect
		d := dialect.GetDialect(DriverName)
		Log.Info("using dialect", zap.String("driver", DriverName))

		// 1. Configure
		run, err := c.Build(ctx, DB, d, Log)
		if err != nil {
			return err
		}

		// 2. Connect destination
		dstDB, dstDialect := DB, d
		if run.Mode == engine.ModeExport {
			target, err := GetExportTarget()
			if err != nil {
				return err
			}
			if dstDB, err = openDB(target); err != nil {
				return err
			}
			defer dstDB.Close()
			dstDialect = dialect.GetDialect(target.Driver)
			fmt.Printf("🦅 Exporting to %s (%s)\n", target.Name, target.Driver)
		}

		src, err := DB.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer src.Rollback()
		dst := src
		if dstDB != DB {
			if dst, err = dstDB.BeginTx(ctx, nil); err != nil {
				return fmt.Errorf("failed to begin transaction on export target: %w", err)
			}
			defer dst.Rollback()
		}

		host := engine.NewSQLHost(dst, src, dstDialect, c.VersionTable)

		// 3. Fetch
		start := time.Now()
		s := engine.NewStructureCopy(src, engine.Options{
			Dialect:     d,
			Tables:      run.Tables,
			Descriptors: run.Descriptors,
			Policy:      run.Policy,
			Names:       exclusion.NewNameResolver(src, d, run.Tables),
			Properties:  run.Properties,
			Host:        host,
			Log:         Log,
		})
		objects, err := s.Fetch(ctx, run.Root)
		if err != nil {
			return err
		}

		if dryRun {
			log := Log.Named("dry-run")
			log.Info("no data will be written")
			printObjects(objects)
			return nil
		}

		// 4. Write
		progress := newPhaseBars(!noProgress)
		res, err := engine.NewController(dst, engine.ControllerOptions{
			Dialect:      dstDialect,
			Mode:         run.Mode,
			Descriptors:  run.Descriptors,
			Modificators: run.Modificators,
			Host:         host,
			Log:          Log,
			OnProgress:   progress.update,
		}).Run(ctx, objects)
		progress.stop()
		if err != nil {
			if engine.IsCancelled(err) {
				fmt.Println("✋ Copy cancelled, nothing was written.")
			}
			return err
		}

		if err := commit(dst, src); err != nil {
			return err
		}

		// 5. Final Report
		printResult(res)
		if reportFile != "" {
			if err := writeReport(reportFile, res); err != nil {
				return err
			}
			fmt.Printf("Report written to %s\n", reportFile)
		}
		Log.Info("copy done", zap.Duration("elapsed", time.Since(start)))
		return nil
	},
}

func init() {
	RootCmd.AddCommand(copyCmd)

	copyCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Fetch the structure and print it without writing")
	copyCmd.Flags().BoolVar(&noProgress, "no-progress", false, "Do not draw progress bars")
	copyCmd.Flags().StringVar(&mode, "mode", "", "duplicate or export (overrides config)")
	copyCmd.Flags().StringVar(&reportFile, "report", "", "Write the result (id mapping, exclusions) to this YAML file")
	copyCmd.Flags().StringArrayVarP(&properties, "property", "p", nil, "Set a property as name=value (repeatable)")
	copyCmd.Flags().StringArrayVar(&rootParams, "param", nil, "Bind the ? markers of the root where clause (repeatable, in order)")
}

// commit commits the destination first; in duplicate mode both are the same transaction.
func commit(dst, src *sql.Tx) error {
	if err := dst.Commit(); err != nil {
		return fmt.Errorf("failed to commit copy: %w", err)
	}
	if dst == src {
		return nil
	}
	// The source transaction only read.
	if err := src.Commit(); err != nil {
		Log.Warn("failed to close source transaction", zap.Error(err))
	}
	return nil
}

// phaseBars draws one progress bar per write phase.
type phaseBars struct {
	enabled bool
	once    sync.Once
	bars    map[engine.Phase]*uiprogress.Bar
}

func newPhaseBars(enabled bool) *phaseBars {
	return &phaseBars{enabled: enabled, bars: make(map[engine.Phase]*uiprogress.Bar)}
}

func (p *phaseBars) update(phase engine.Phase, done, total int) {
	if !p.enabled {
		return
	}
	p.once.Do(uiprogress.Start)
	bar, ok := p.bars[phase]
	if !ok {
		name := phase.String()
		bar = uiprogress.AddBar(total).AppendCompleted().PrependElapsed()
		bar.PrependFunc(func(b *uiprogress.Bar) string {
			return fmt.Sprintf("%-7s", name)
		})
		p.bars[phase] = bar
	}
	_ = bar.Set(done)
}

func (p *phaseBars) stop() {
	if p.enabled && len(p.bars) > 0 {
		uiprogress.Stop()
	}
}

func printObjects(objects *object.Map) {
	counts := make(map[string][3]int)
	var order []string
	for _, o := range objects.All() {
		name := o.Table.Name
		c, seen := counts[name]
		if !seen {
			order = append(order, name)
		}
		switch o.Kind {
		case object.KindRow:
			c[0]++
		case object.KindExcluded:
			c[1]++
		case object.KindDeleted:
			c[2]++
		}
		counts[name] = c
	}
	fmt.Println("\n🔍 Fetched Structure:")
	for i, name := range order {
		c := counts[name]
		fmt.Printf("[%02d] %-20s : %d rows (%d excluded with note, %d dropped)\n", i+1, name, c[0], c[1], c[2])
	}
	fmt.Printf("Total Objects: %d\n", objects.Len())
}

func printResult(res *engine.Result) {
	fmt.Printf("\n📊 Summary Report (%s):\n", res.Mode)
	for i, t := range res.Tables {
		icon := "✓"
		if t.Ignored > 0 {
			icon = "!"
		}
		fmt.Printf("[%s] [%02d/%02d] %-20s : %d created, %d linked, %d ignored\n",
			icon, i+1, len(res.Tables), t.Table, t.Created, t.Updated, t.Ignored)
	}
	for _, e := range res.Excluded {
		fmt.Printf("    └ Excluded: %s %d %q\n", e.Table, e.ID, e.Name)
	}
	fmt.Println("--------------------------------------------------")
	fmt.Printf("Total Rows Created: %d\n", res.Total())
}

func writeReport(path string, res *engine.Result) error {
	out, err := yaml.Marshal(res)
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}
