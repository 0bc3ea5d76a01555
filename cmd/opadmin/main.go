// Command opadmin is the operator CLI: key management, migrations, ad-hoc
// backfills, and run inspection.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/OpenParlCA/OP-Backend/internal/apikeys"
	"github.com/OpenParlCA/OP-Backend/internal/config"
	"github.com/OpenParlCA/OP-Backend/internal/db"
	"github.com/OpenParlCA/OP-Backend/internal/flow"
	"github.com/OpenParlCA/OP-Backend/internal/parl"
	"github.com/OpenParlCA/OP-Backend/internal/prefs"
)

var cfg config.Config

func main() {
	root := &cobra.Command{
		Use:           "opadmin",
		Short:         "Operator tooling for the parliamentary data platform",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_ = godotenv.Load(".env.local")
			var err error
			cfg, err = config.LoadFromEnv()
			if err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			db.Connect(cfg.DatabaseURL)
			parl.RegisterMigrations()
			flow.RegisterMigrations()
			apikeys.RegisterMigrations()
			prefs.RegisterMigrations()
			return nil
		},
	}

	root.AddCommand(migrateCmd(), apikeyCmd(), backfillCmd(), runCmd(), fetchlogCmd())

	if err := root.Execute(); err != nil {
		log.Fatal(err)
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return db.Migrate(db.DB)
		},
	}
}

func apikeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apikey",
		Short: "Manage API keys",
	}

	var name string
	var limit int
	var ttl time.Duration
	create := &cobra.Command{
		Use:   "create",
		Short: "Issue a new API key (the raw key is printed once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			var expires *time.Time
			if ttl > 0 {
				t := time.Now().UTC().Add(ttl)
				expires = &t
			}
			key, raw, err := apikeys.NewService(db.DB).Create(cmd.Context(), name, limit, expires)
			if err != nil {
				return err
			}
			fmt.Printf("id:    %s\n", key.ID)
			fmt.Printf("name:  %s\n", key.Name)
			fmt.Printf("limit: %d req/hour\n", key.RequestsPerHour)
			if key.ExpiresAt != nil {
				fmt.Printf("expires: %s\n", key.ExpiresAt.Format(time.RFC3339))
			}
			fmt.Printf("key:   %s\n", raw)
			fmt.Println("Store the key now; it is not recoverable later.")
			return nil
		},
	}
	create.Flags().StringVar(&name, "name", "", "human-readable key owner")
	create.Flags().IntVar(&limit, "limit", apikeys.DefaultRequestsPerHour, "requests per hour")
	create.Flags().DurationVar(&ttl, "ttl", 0, "lifetime, e.g. 8760h (0 = never expires)")
	_ = create.MarkFlagRequired("name")

	list := &cobra.Command{
		Use:   "list",
		Short: "List all keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			keys, err := apikeys.NewService(db.DB).List(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tACTIVE\tLIMIT\tREQUESTS\tLAST USED")
			for _, k := range keys {
				last := "-"
				if k.LastUsedAt != nil {
					last = k.LastUsedAt.Format(time.RFC3339)
				}
				fmt.Fprintf(w, "%s\t%s\t%t\t%d\t%d\t%s\n", k.ID, k.Name, k.Active, k.RequestsPerHour, k.RequestCount, last)
			}
			return w.Flush()
		},
	}

	show := keyAction("show", "Show one key", func(ctx context.Context, svc *apikeys.Service, id uuid.UUID, _ []string) error {
		k, err := svc.Get(ctx, id)
		if err != nil {
			return err
		}
		fmt.Printf("id:       %s\n", k.ID)
		fmt.Printf("name:     %s\n", k.Name)
		fmt.Printf("active:   %t\n", k.Active)
		fmt.Printf("limit:    %d req/hour\n", k.RequestsPerHour)
		fmt.Printf("requests: %d\n", k.RequestCount)
		if k.ExpiresAt != nil {
			fmt.Printf("expires:  %s\n", k.ExpiresAt.Format(time.RFC3339))
		}
		if k.LastUsedAt != nil {
			fmt.Printf("last use: %s\n", k.LastUsedAt.Format(time.RFC3339))
		}
		return nil
	})

	setLimit := &cobra.Command{
		Use:   "set-limit <id> <requests-per-hour>",
		Short: "Change a key's hourly rate limit",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid key id %q", args[0])
			}
			n, err := strconv.Atoi(args[1])
			if err != nil || n < 1 {
				return fmt.Errorf("limit must be a positive integer")
			}
			return apikeys.NewService(db.DB).UpdateLimit(cmd.Context(), id, n)
		},
	}

	deactivate := keyAction("deactivate", "Deactivate a key", func(ctx context.Context, svc *apikeys.Service, id uuid.UUID, _ []string) error {
		return svc.Deactivate(ctx, id)
	})
	reactivate := keyAction("reactivate", "Reactivate a key", func(ctx context.Context, svc *apikeys.Service, id uuid.UUID, _ []string) error {
		return svc.Reactivate(ctx, id)
	})
	del := keyAction("delete", "Delete a key permanently", func(ctx context.Context, svc *apikeys.Service, id uuid.UUID, _ []string) error {
		return svc.Delete(ctx, id)
	})

	cmd.AddCommand(create, list, show, setLimit, deactivate, reactivate, del)
	return cmd
}

// keyAction wraps the boilerplate of one-id apikey subcommands.
func keyAction(use, short string, fn func(context.Context, *apikeys.Service, uuid.UUID, []string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid key id %q", args[0])
			}
			return fn(cmd.Context(), apikeys.NewService(db.DB), id, args[1:])
		},
	}
}

func backfillCmd() *cobra.Command {
	var flowName string
	var parliament, session int
	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Enqueue an ad-hoc ingestion run for a past session",
		RunE: func(cmd *cobra.Command, args []string) error {
			if parliament < 1 || session < 1 {
				return fmt.Errorf("parliament and session must be positive")
			}
			d := &flow.Deployment{
				Name:     "backfill",
				FlowName: flowName,
				Pool:     cfg.WorkPool,
			}
			params := map[string]any{"parliament": parliament, "session": session}
			run, err := flow.NewRunStore(db.DB).Enqueue(cmd.Context(), d, params, time.Now().UTC())
			if err != nil {
				return err
			}
			fmt.Printf("enqueued run %s (%s, pool %s) for %d-%d\n", run.ID, run.FlowName, run.Pool, parliament, session)
			return nil
		},
	}
	cmd.Flags().StringVar(&flowName, "flow", "sync-legislation", "flow to run")
	cmd.Flags().IntVar(&parliament, "parliament", 0, "parliament number")
	cmd.Flags().IntVar(&session, "session", 0, "session number")
	_ = cmd.MarkFlagRequired("parliament")
	_ = cmd.MarkFlagRequired("session")
	return cmd
}

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Inspect and cancel flow runs",
	}

	var flowName string
	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List recent runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			runs, err := flow.NewRunStore(db.DB).Recent(cmd.Context(), flowName, limit)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tFLOW\tSTATE\tSCHEDULED\tWORKER")
			for _, r := range runs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", r.ID, r.FlowName, r.State, r.ScheduledAt.Format(time.RFC3339), r.WorkerName)
			}
			return w.Flush()
		},
	}
	list.Flags().StringVar(&flowName, "flow", "", "filter by flow name")
	list.Flags().IntVar(&limit, "limit", 20, "maximum rows")

	show := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one run with its task runs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid run id %q", args[0])
			}
			store := flow.NewRunStore(db.DB)
			run, err := store.Get(cmd.Context(), id)
			if err != nil {
				return err
			}
			fmt.Printf("run:      %s\n", run.ID)
			fmt.Printf("flow:     %s (%s)\n", run.FlowName, run.DeploymentName)
			fmt.Printf("state:    %s\n", run.State)
			fmt.Printf("params:   %v\n", run.Parameters)
			if run.StartedAt != nil {
				fmt.Printf("started:  %s\n", run.StartedAt.Format(time.RFC3339))
			}
			if run.FinishedAt != nil {
				fmt.Printf("finished: %s\n", run.FinishedAt.Format(time.RFC3339))
			}
			if run.LogTail != "" {
				fmt.Printf("log tail:\n%s\n", run.LogTail)
			}
			tasks, err := store.TaskRuns(cmd.Context(), id)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TASK\tSTATE\tATTEMPTS\tCACHE\tERROR")
			for _, t := range tasks {
				fmt.Fprintf(w, "%s\t%s\t%d\t%t\t%s\n", t.TaskName, t.State, t.Attempts, t.CacheHit, t.Error)
			}
			return w.Flush()
		},
	}

	cancel := &cobra.Command{
		Use:   "cancel <id>",
		Short: "Request cooperative cancellation of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid run id %q", args[0])
			}
			if err := flow.NewRunStore(db.DB).RequestCancel(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Println("cancellation requested; the worker stops at the next task boundary")
			return nil
		},
	}

	cmd.AddCommand(list, show, cancel)
	return cmd
}

func fetchlogCmd() *cobra.Command {
	var source string
	var limit int
	cmd := &cobra.Command{
		Use:   "fetchlog",
		Short: "Show recent ingestion fetch logs",
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := parl.NewFetchLogRepo(db.DB).Recent(cmd.Context(), source, limit)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "WHEN\tSOURCE\tSTATUS\tATTEMPTED\tOK\tFAILED\tMS")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%d\n",
					e.CreatedAt.Format(time.RFC3339), e.Source, e.Status,
					e.RecordsAttempted, e.RecordsSucceeded, e.RecordsFailed, e.DurationMS)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&source, "source", "", "filter by source name")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum rows")
	return cmd
}
