package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"collabline/internal/app"
	"collabline/internal/config"
	"collabline/internal/contract"
	"collabline/internal/db"
	"collabline/internal/domain"
	"collabline/internal/engine"
	"collabline/internal/migrate"
	"collabline/internal/repo"
	"collabline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "cl",
	Short: "Collabline CLI",
	Long: `Collabline manages engagement contracts between businesses and influencers.
Core concepts:
- Proposal: an influencer's pitch on a job; the owner accepts it into a draft contract, or it gets deleted.
- Contract: the binding engagement record; statuses go draft -> active -> completed/terminated.
- Activation: the influencer accepting the terms; only they may move draft -> active.
- Dual confirmation: both parties must independently confirm delivery; completion is derived, never requested.
- Termination: either party may walk away from a draft or active contract.
- Catalog: collabline.yml lists the platforms and action types a deliverable may name.
- Event log: diary of every state change, view with 'cl log tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("COLLABLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("role", "", "caller role (influencer or owner)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("role", rootCmd.PersistentFlags().Lookup("role"))
}

func registerCommands() {
	rootCmd.AddCommand(contractCmd())
	rootCmd.AddCommand(proposalCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func contractCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "contract",
		Short: "Manage engagement contracts",
		Long:  "Contracts bind an influencer and a business to deliverables for a price. Drafts activate when the influencer accepts; both parties confirm delivery to complete; either party may terminate a draft or active contract.",
	}
	c.AddCommand(contractCreateCmd())
	c.AddCommand(contractListCmd())
	c.AddCommand(contractShowCmd())
	c.AddCommand(contractTransitionCmd("activate", contract.TransitionActivate, "Activate a draft contract (influencer accepts the terms)"))
	c.AddCommand(contractConfirmCmd())
	c.AddCommand(contractTransitionCmd("terminate", contract.TransitionTerminate, "Terminate a draft or active contract"))
	return c
}

func contractCreateCmd() *cobra.Command {
	var opts engine.ContractCreateOptions
	var deliverables []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a draft contract",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = viper.GetString("actor-id")
			items, err := parseDeliverables(deliverables)
			if err != nil {
				return err
			}
			opts.Deliverables = items
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.CreateContract(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrValue(c)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "contract id (optional, random UUID if omitted)")
	cmd.Flags().StringVar(&opts.SenderID, "sender", "", "influencer id")
	cmd.Flags().StringVar(&opts.ReceiverID, "receiver", "", "business owner id")
	cmd.Flags().Int64Var(&opts.Price, "price", 0, "price in minor currency units")
	cmd.Flags().StringVar(&opts.Deadline, "deadline", "", "deadline (YYYY-MM-DD)")
	cmd.Flags().StringArrayVar(&deliverables, "deliverable", []string{}, "deliverable as platform:action:quantity (repeatable)")
	_ = cmd.MarkFlagRequired("sender")
	_ = cmd.MarkFlagRequired("receiver")
	_ = cmd.MarkFlagRequired("price")
	_ = cmd.MarkFlagRequired("deadline")
	return cmd
}

func contractListCmd() *cobra.Command {
	var status, party string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List contracts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListContracts(ctx, status, party)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				t := table.NewWriter()
				t.SetOutputMirror(os.Stdout)
				t.AppendHeader(table.Row{"ID", "STATUS", "PRICE", "DEADLINE", "INFLUENCER OK", "OWNER OK"})
				for _, c := range items {
					t.AppendRow(table.Row{c.ID, c.Status, c.Price, c.Deadline, c.InfluencerConfirmed, c.OwnerConfirmed})
				}
				t.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter (draft, active, completed, terminated)")
	cmd.Flags().StringVar(&party, "party", "", "filter by sender or receiver id")
	return cmd
}

func contractShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a contract",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.GetContract(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrValue(c)
			})
		},
	}
	return cmd
}

func contractTransitionCmd(use string, t contract.Transition, short string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			role, err := requireRole()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.Transition(ctx, engine.TransitionOptions{
					ContractID: args[0],
					Transition: t,
					Role:       role,
					ActorID:    viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrValue(c)
			})
		},
	}
	return cmd
}

// contractConfirmCmd picks the confirmation token matching the caller's role.
func contractConfirmCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "confirm <id>",
		Short: "Confirm delivery for your side of the contract",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			role, err := requireRole()
			if err != nil {
				return err
			}
			t := contract.TransitionInfluencerConfirm
			if role == contract.RoleOwner {
				t = contract.TransitionOwnerConfirm
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.Transition(ctx, engine.TransitionOptions{
					ContractID: args[0],
					Transition: t,
					Role:       role,
					ActorID:    viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrValue(c)
			})
		},
	}
	return cmd
}

func proposalCmd() *cobra.Command {
	p := &cobra.Command{
		Use:   "proposal",
		Short: "Manage proposals",
		Long:  "Proposals are influencer pitches on jobs. Owners accept one into a draft contract; pending proposals can be deleted.",
	}
	p.AddCommand(proposalCreateCmd())
	p.AddCommand(proposalListCmd())
	p.AddCommand(proposalDeleteCmd())
	p.AddCommand(proposalAcceptCmd())
	return p
}

func proposalCreateCmd() *cobra.Command {
	var opts engine.ProposalCreateOptions
	var deliverables []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a proposal",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = viper.GetString("actor-id")
			items, err := parseDeliverables(deliverables)
			if err != nil {
				return err
			}
			opts.Deliverables = items
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.CreateProposal(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrValue(p)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "proposal id (optional)")
	cmd.Flags().StringVar(&opts.JobID, "job", "", "job id")
	cmd.Flags().StringVar(&opts.InfluencerID, "influencer", "", "influencer id")
	cmd.Flags().StringVar(&opts.OwnerID, "owner", "", "business owner id")
	cmd.Flags().Int64Var(&opts.Price, "price", 0, "price in minor currency units")
	cmd.Flags().StringVar(&opts.Deadline, "deadline", "", "deadline (YYYY-MM-DD)")
	cmd.Flags().StringVar(&opts.Message, "message", "", "pitch message")
	cmd.Flags().StringArrayVar(&deliverables, "deliverable", []string{}, "deliverable as platform:action:quantity (repeatable)")
	_ = cmd.MarkFlagRequired("job")
	_ = cmd.MarkFlagRequired("influencer")
	_ = cmd.MarkFlagRequired("owner")
	_ = cmd.MarkFlagRequired("price")
	_ = cmd.MarkFlagRequired("deadline")
	return cmd
}

func proposalListCmd() *cobra.Command {
	var jobID, status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List proposals",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListProposals(ctx, jobID, status)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				t := table.NewWriter()
				t.SetOutputMirror(os.Stdout)
				t.AppendHeader(table.Row{"ID", "JOB", "INFLUENCER", "PRICE", "STATUS"})
				for _, p := range items {
					t.AppendRow(table.Row{p.ID, p.JobID, p.InfluencerID, p.Price, p.Status})
				}
				t.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&jobID, "job", "", "job id filter")
	cmd.Flags().StringVar(&status, "status", "", "status filter (pending, accepted)")
	return cmd
}

func proposalDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a pending proposal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DeleteProposal(ctx, args[0], viper.GetString("actor-id"))
			})
		},
	}
	return cmd
}

func proposalAcceptCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accept <id>",
		Short: "Accept a proposal into a draft contract (owner only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			role, err := requireRole()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.AcceptProposal(ctx, args[0], role, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrValue(c)
			})
		},
	}
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Manage the marketplace catalog",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configImportCmd())
	cfg.AddCommand(configInitCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show catalog stored in DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSONOrValue(e.Config)
			})
		},
	}
	return cmd
}

func configImportCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import catalog from YAML into the DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromFile(filePath)
			if err != nil {
				return err
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if err := r.UpsertMarketplaceConfig(ctx, nil, cfg); err != nil {
					return err
				}
				return printJSONOrValue(cfg)
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to YAML config")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func configInitCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default collabline.yml to the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(name)), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "collabline", "marketplace name")
	return cmd
}

func apikeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apikey",
		Short: "Manage API keys",
	}
	cmd.AddCommand(apikeyCreateCmd())
	cmd.AddCommand(apikeyListCmd())
	return cmd
}

func apikeyCreateCmd() *cobra.Command {
	var actorID, role, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key bound to an actor and role",
		RunE: func(cmd *cobra.Command, args []string) error {
			if actorID == "" || role == "" {
				return fmt.Errorf("--actor and --role required")
			}
			if _, err := contract.ParseRole(role); err != nil {
				return err
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				secret := "clk_" + strings.ReplaceAll(newUUID(), "-", "")
				tx, err := r.DB.BeginTx(ctx, nil)
				if err != nil {
					return err
				}
				defer tx.Rollback()
				if err := r.EnsureActor(ctx, tx, actorID); err != nil {
					return err
				}
				key := domain.APIKey{
					ID:        newUUID(),
					ActorID:   actorID,
					Role:      role,
					Name:      name,
					KeyHash:   repo.HashAPIKey(secret),
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				if err := r.InsertAPIKey(ctx, tx, key); err != nil {
					return err
				}
				if err := tx.Commit(); err != nil {
					return err
				}
				fmt.Printf("API key (save it, shown once): %s\n", secret)
				return printJSONOrValue(key)
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "actor id")
	cmd.Flags().StringVar(&role, "role", "", "role (influencer or owner)")
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	var actorID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				keys, err := r.ListAPIKeys(ctx, actorID)
				if err != nil {
					return err
				}
				return printJSONOrValue(keys)
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "filter by actor id")
	return cmd
}

func logCmd() *cobra.Command {
	l := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "The diary of everything that happened: contract transitions, confirmations, proposals.",
	}
	l.AddCommand(logTailCmd())
	return l
}

func logTailCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				events, err := r.ListEvents(ctx, n, "", 0)
				if err != nil {
					return err
				}
				return printJSONOrValue(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowLegacyActor bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			r := repo.Repo{DB: conn}
			cfg, err := app.ResolveConfig(cmd.Context(), workspace, r)
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			authCfg := server.AuthConfig{
				JWTSecret:              os.Getenv("COLLABLINE_JWT_SECRET"),
				AllowLegacyActorHeader: allowLegacyActor,
			}
			if authCfg.JWTSecret == "" && !allowLegacyActor {
				return fmt.Errorf("COLLABLINE_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(shutdownCtx)
			}()
			fmt.Printf("Serving Collabline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	cmd.Flags().BoolVar(&allowLegacyActor, "allow-legacy-actor-header", false, "accept X-Actor-Id without auth (dev only)")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	return withRepo(ctx, func(ctx context.Context, r repo.Repo) error {
		cfg, err := app.ResolveConfig(ctx, viper.GetString("workspace"), r)
		if err != nil {
			return err
		}
		e := engine.New(r.DB, cfg)
		return fn(ctx, e)
	})
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func requireRole() (contract.Role, error) {
	role := strings.TrimSpace(viper.GetString("role"))
	if role == "" {
		return "", fmt.Errorf("--role required (influencer or owner)")
	}
	return contract.ParseRole(role)
}

// parseDeliverables decodes repeated platform:action:quantity flags.
func parseDeliverables(in []string) ([]domain.Deliverable, error) {
	var out []domain.Deliverable
	for _, raw := range in {
		parts := strings.Split(raw, ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("deliverable %q must be platform:action:quantity", raw)
		}
		qty, err := strconv.Atoi(parts[2])
		if err != nil {
			return nil, fmt.Errorf("deliverable %q has invalid quantity: %w", raw, err)
		}
		out = append(out, domain.Deliverable{
			Platform:   parts[0],
			ActionType: parts[1],
			Quantity:   qty,
		})
	}
	return out, nil
}

func printJSONOrValue(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func newUUID() string {
	return uuid.New().String()
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
