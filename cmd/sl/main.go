package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"stageline/internal/app"
	"stageline/internal/config"
	"stageline/internal/db"
	"stageline/internal/domain"
	"stageline/internal/engine"
	"stageline/internal/migrate"
	"stageline/internal/repo"
	"stageline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "sl",
	Short: "Stageline CLI",
	Long: `Stageline tracks legal cases through their procedural stages.
Core concepts:
- Workspace: your .stageline directory holding only the database; firm configs live in the DB and are imported explicitly.
- Firm: the practice that owns cases, actors, and the stage graph configuration.
- Case: one matter moving through stages (assessment, notice, reply, hearing, order, appeal).
- Stage instance: one visit of a case to a stage; remands and send-backs reopen stages as fresh cycles.
- Transitions: forward moves a case onward, remand and send_back move it to an earlier stage with a reason; some types need partner approval.
- Checklist: per-stage exit conditions, auto-evaluated from documents/hearings/fields or manually attested; required unmet items block closing the stage.
- Workflow: notices -> reply -> hearings -> closure inside each stage, completed in order.
- Notices and replies: the legal paper trail with demand amounts; filed replies are immutable records.
- Event log: diary of every change, view with 'sl log tail'.`,
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
	viper.SetEnvPrefix("STAGELINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("firm", "", "firm id (overrides config default)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("firm", rootCmd.PersistentFlags().Lookup("firm"))
}

func registerCommands() {
	rootCmd.AddCommand(firmCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(caseCmd())
	rootCmd.AddCommand(checklistCmd())
	rootCmd.AddCommand(workflowCmd())
	rootCmd.AddCommand(noticeCmd())
	rootCmd.AddCommand(replyCmd())
	rootCmd.AddCommand(hearingCmd())
	rootCmd.AddCommand(docCmd())
	rootCmd.AddCommand(approvalCmd())
	rootCmd.AddCommand(roleCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func firmCmd() *cobra.Command {
	firm := &cobra.Command{Use: "firm", Short: "Manage firms"}
	firm.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List firms",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r *repo.Repo) error {
				items, err := r.ListFirms(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	})
	firm.AddCommand(&cobra.Command{
		Use:   "use <id>",
		Short: "Set current firm for this workspace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			firmID := strings.TrimSpace(args[0])
			if firmID == "" {
				return fmt.Errorf("firm id is required")
			}
			workspace := viper.GetString("workspace")
			if err := setEnvValue(filepath.Join(workspace, ".env"), "STAGELINE_FIRM", firmID); err != nil {
				return err
			}
			fmt.Printf("Set STAGELINE_FIRM=%s in %s/.env\n", firmID, workspace)
			return nil
		},
	})
	return firm
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Manage firm config"}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configImportCmd())
	cfg.AddCommand(configInitCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show firm config stored in DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				return printJSONOrTable(e.Config)
			})
		},
	}
}

func configImportCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import firm config from YAML into the DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(filePath)
			if err != nil {
				return err
			}
			cfg, err := config.FromYAML(data)
			if err != nil {
				return err
			}
			firmID := cfg.Firm.ID
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				if firmID == "" {
					firmID = e.Config.Firm.ID
				}
				if err := app.SaveConfig(ctx, firmID, cfg, e.Repo); err != nil {
					return err
				}
				return printJSONOrTable(cfg)
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to YAML config")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func configInitCmd() *cobra.Command {
	var firmID, out string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			if firmID == "" {
				firmID = viper.GetString("firm")
			}
			if firmID == "" {
				return fmt.Errorf("--firm-id required")
			}
			data := config.GenerateDefault(firmID)
			if out == "" {
				fmt.Print(data)
				return nil
			}
			return os.WriteFile(out, []byte(data), 0o644)
		},
	}
	cmd.Flags().StringVar(&firmID, "firm-id", "", "firm id")
	cmd.Flags().StringVar(&out, "out", "", "output file (stdout when empty)")
	return cmd
}

func caseCmd() *cobra.Command {
	c := &cobra.Command{Use: "case", Short: "Manage cases"}
	c.AddCommand(caseOpenCmd())
	c.AddCommand(caseListCmd())
	c.AddCommand(caseShowCmd())
	c.AddCommand(caseUpdateCmd())
	c.AddCommand(caseStateCmd())
	c.AddCommand(caseStagesCmd())
	c.AddCommand(caseTransitionsCmd())
	c.AddCommand(caseMoveCmd("advance", "Advance case to the next stage", config.TransitionForward))
	c.AddCommand(caseMoveCmd("remand", "Remand case to an earlier stage", config.TransitionRemand))
	c.AddCommand(caseMoveCmd("send-back", "Send case back for correction", config.TransitionSendBack))
	return c
}

func caseOpenCmd() *cobra.Command {
	var number, title, desc, stage string
	cmd := &cobra.Command{
		Use:   "open",
		Short: "Open a case at the first (or given) stage",
		RunE: func(cmd *cobra.Command, args []string) error {
			if number == "" {
				return fmt.Errorf("--number required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				c, err := e.OpenCase(ctx, engine.OpenCaseParams{
					FirmID:      e.Config.Firm.ID,
					CaseNumber:  number,
					Title:       title,
					Description: desc,
					StageKey:    stage,
					ActorID:     viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&number, "number", "", "case number (unique per firm)")
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	cmd.Flags().StringVar(&stage, "stage", "", "starting stage key (default: first configured stage)")
	_ = cmd.MarkFlagRequired("number")
	return cmd
}

func caseListCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List cases",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				cases, err := e.Repo.ListCases(ctx, e.Config.Firm.ID, status)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(cases)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Number", "Title", "Status", "Assignee"})
				for _, c := range cases {
					assignee := ""
					if c.AssignedToID != nil {
						assignee = *c.AssignedToID
					}
					tw.AppendRow(table.Row{c.ID, c.CaseNumber, c.Title, c.Status, assignee})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter (open, on_hold, closed)")
	return cmd
}

func caseShowCmd() *cobra.Command {
	var number string
	cmd := &cobra.Command{
		Use:   "show [case-id]",
		Short: "Show a case",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				c, err := resolveCase(ctx, e, args, number)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&number, "number", "", "look up by case number")
	return cmd
}

func caseUpdateCmd() *cobra.Command {
	var title, desc, assignee string
	var hold, release bool
	cmd := &cobra.Command{
		Use:   "update <case-id>",
		Short: "Update case fields or hold status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if hold && release {
				return fmt.Errorf("--hold and --release are mutually exclusive")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				p := engine.UpdateCaseParams{CaseID: args[0], ActorID: viper.GetString("actor-id")}
				if cmd.Flags().Changed("title") {
					p.Title = &title
				}
				if cmd.Flags().Changed("description") {
					p.Description = &desc
				}
				if cmd.Flags().Changed("assignee") {
					p.AssignedToID = &assignee
				}
				if hold {
					v := true
					p.OnHold = &v
				}
				if release {
					v := false
					p.OnHold = &v
				}
				c, err := e.UpdateCase(ctx, p)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	cmd.Flags().StringVar(&assignee, "assignee", "", "assigned actor id")
	cmd.Flags().BoolVar(&hold, "hold", false, "put case on hold")
	cmd.Flags().BoolVar(&release, "release", false, "take case off hold")
	return cmd
}

func caseStateCmd() *cobra.Command {
	var number string
	cmd := &cobra.Command{
		Use:   "state [case-id]",
		Short: "Show current stage, workflow and pending approvals",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				c, err := resolveCase(ctx, e, args, number)
				if err != nil {
					return err
				}
				st, err := e.CurrentState(ctx, c.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(st)
				}
				fmt.Printf("Case: %s (%s) [%s]\n", c.CaseNumber, c.Title, c.Status)
				if st.Active != nil {
					fmt.Printf("Stage: %s (%s), cycle %d\n", st.Active.StageKey, st.StageLabel, st.Active.CycleNo)
				} else {
					fmt.Println("Stage: none active")
				}
				if st.Workflow != nil {
					fmt.Printf("Workflow: %s (%d%%)\n", st.Workflow.CurrentStep, st.Workflow.Progress)
				}
				for _, t := range st.Pending {
					fmt.Printf("Pending approval: %s %s -> %s (%s)\n", t.ID, ptrOrDash(t.FromInstanceID), t.ToInstanceID, t.Type)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&number, "number", "", "look up by case number")
	return cmd
}

func caseStagesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stages <case-id>",
		Short: "List stage instances (history)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				items, err := e.Repo.ListInstances(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Stage", "Cycle", "Status", "Started", "Ended"})
				for _, in := range items {
					tw.AppendRow(table.Row{in.ID, in.StageKey, in.CycleNo, in.Status, in.StartedAt, ptrOrDash(in.EndedAt)})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func caseTransitionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "transitions <case-id>",
		Short: "List transitions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				items, err := e.Repo.ListTransitions(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	return cmd
}

func caseMoveCmd(use, short, transitionType string) *cobra.Command {
	var to, fromInstance, reasonCode, reason, orderNo, orderDate, orderDoc, comments string
	cmd := &cobra.Command{
		Use:   use + " <case-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				p := engine.TransitionParams{
					CaseID:          args[0],
					FromInstanceID:  fromInstance,
					ToStageKey:      to,
					ReasonCode:      reasonCode,
					Reason:          reason,
					OrderNo:         orderNo,
					OrderDate:       orderDate,
					OrderDocumentID: orderDoc,
					Comments:        comments,
					ActorID:         viper.GetString("actor-id"),
				}
				var (
					t   any
					err error
				)
				switch transitionType {
				case config.TransitionRemand:
					t, err = e.Remand(ctx, p)
				case config.TransitionSendBack:
					t, err = e.SendBack(ctx, p)
				default:
					t, err = e.Advance(ctx, p)
				}
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "target stage key")
	cmd.Flags().StringVar(&fromInstance, "from-instance", "", "expected active stage instance id")
	cmd.Flags().StringVar(&reasonCode, "reason-code", "", "configured reason code")
	cmd.Flags().StringVar(&reason, "reason", "", "free-text reason")
	cmd.Flags().StringVar(&orderNo, "order-no", "", "order number")
	cmd.Flags().StringVar(&orderDate, "order-date", "", "order date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&orderDoc, "order-doc", "", "order document id")
	cmd.Flags().StringVar(&comments, "comments", "", "comments")
	return cmd
}

func checklistCmd() *cobra.Command {
	c := &cobra.Command{Use: "checklist", Short: "Stage exit checklist"}

	show := &cobra.Command{
		Use:   "show <instance-id>",
		Short: "Evaluate and show the checklist",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				items, err := e.Evaluate(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Key", "Label", "Rule", "Required", "Status"})
				for _, it := range items {
					tw.AppendRow(table.Row{it.ItemKey, it.Label, it.RuleType, it.Required, it.Status})
				}
				tw.Render()
				for _, reason := range engine.BlockingReasons(items) {
					fmt.Println("blocking:", reason)
				}
				return nil
			})
		},
	}

	var note, evidence string
	attest := &cobra.Command{
		Use:   "attest <instance-id> <item-key>",
		Short: "Attest a checklist item",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				ci, err := e.Attest(ctx, args[0], args[1], viper.GetString("actor-id"), note, evidence)
				if err != nil {
					return err
				}
				return printJSONOrTable(ci)
			})
		},
	}
	attest.Flags().StringVar(&note, "note", "", "attestation note")
	attest.Flags().StringVar(&evidence, "evidence", "", "evidence document id")

	var overrideNote string
	override := &cobra.Command{
		Use:   "override <instance-id> <item-key>",
		Short: "Override a checklist item with a recorded note",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				ci, err := e.Override(ctx, args[0], args[1], viper.GetString("actor-id"), overrideNote)
				if err != nil {
					return err
				}
				return printJSONOrTable(ci)
			})
		},
	}
	override.Flags().StringVar(&overrideNote, "note", "", "override justification (required)")
	_ = override.MarkFlagRequired("note")

	c.AddCommand(show, attest, override)
	return c
}

func workflowCmd() *cobra.Command {
	c := &cobra.Command{Use: "workflow", Short: "Per-stage workflow steps"}

	show := &cobra.Command{
		Use:   "show <instance-id>",
		Short: "Show workflow progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				st, err := e.GetWorkflow(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(st)
				}
				fmt.Printf("Stage %s cycle %d: %d%% (%s)\n", st.Instance.StageKey, st.Instance.CycleNo, st.Progress, st.CurrentStep)
				for _, s := range st.Steps {
					fmt.Printf("  %-8s %s\n", s.StepKey, s.Status)
				}
				fmt.Printf("Notices: %d  Replies filed: %d  Hearings held: %d\n", st.NoticeCount, st.RepliesFiled, st.HearingsHeld)
				if !st.CanClose {
					for _, reason := range st.Blocking {
						fmt.Println("blocking:", reason)
					}
				}
				return nil
			})
		},
	}

	var notes string
	complete := &cobra.Command{
		Use:   "complete <instance-id> <step-key>",
		Short: "Complete a workflow step (closure closes the stage)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				ws, err := e.CompleteStep(ctx, args[0], args[1], viper.GetString("actor-id"), notes)
				if err != nil {
					return err
				}
				return printJSONOrTable(ws)
			})
		},
	}
	complete.Flags().StringVar(&notes, "notes", "", "notes")

	var skipNotes string
	skip := &cobra.Command{
		Use:   "skip <instance-id> <step-key>",
		Short: "Skip a non-closure workflow step",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				ws, err := e.SkipStep(ctx, args[0], args[1], viper.GetString("actor-id"), skipNotes)
				if err != nil {
					return err
				}
				return printJSONOrTable(ws)
			})
		},
	}
	skip.Flags().StringVar(&skipNotes, "notes", "", "reason for skipping (required)")
	_ = skip.MarkFlagRequired("notes")

	c.AddCommand(show, complete, skip)
	return c
}

func noticeCmd() *cobra.Command {
	c := &cobra.Command{Use: "notice", Short: "Notices received on a case"}
	c.AddCommand(noticeAddCmd())
	c.AddCommand(noticeListCmd())
	c.AddCommand(noticeShowCmd())
	c.AddCommand(noticeUpdateCmd())
	c.AddCommand(noticeDeleteCmd())
	return c
}

func noticeAddCmd() *cobra.Command {
	var caseID, instanceID, ntype, number, issuedOn, dueOn string
	var tax, interest, penalty int64
	var taxApp, intApp, penApp, original bool
	var docs []string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Record a notice",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				n, err := e.CreateNotice(ctx, engine.NoticeParams{
					CaseID:             caseID,
					InstanceID:         instanceID,
					Type:               ntype,
					Number:             number,
					IssuedOn:           issuedOn,
					DueOn:              dueOn,
					TaxAmount:          tax,
					InterestAmount:     interest,
					PenaltyAmount:      penalty,
					TaxApplicable:      taxApp,
					InterestApplicable: intApp,
					PenaltyApplicable:  penApp,
					IsOriginal:         original,
					DocumentIDs:        docs,
					ActorID:            viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(n)
			})
		},
	}
	cmd.Flags().StringVar(&caseID, "case", "", "case id")
	cmd.Flags().StringVar(&instanceID, "instance", "", "stage instance id (optional)")
	cmd.Flags().StringVar(&ntype, "type", "", "notice type")
	cmd.Flags().StringVar(&number, "number", "", "notice number")
	cmd.Flags().StringVar(&issuedOn, "issued-on", "", "issue date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&dueOn, "due-on", "", "due date (YYYY-MM-DD)")
	cmd.Flags().Int64Var(&tax, "tax", 0, "tax demand (minor units)")
	cmd.Flags().Int64Var(&interest, "interest", 0, "interest demand (minor units)")
	cmd.Flags().Int64Var(&penalty, "penalty", 0, "penalty demand (minor units)")
	cmd.Flags().BoolVar(&taxApp, "tax-applicable", false, "tax applies")
	cmd.Flags().BoolVar(&intApp, "interest-applicable", false, "interest applies")
	cmd.Flags().BoolVar(&penApp, "penalty-applicable", false, "penalty applies")
	cmd.Flags().BoolVar(&original, "original", false, "mark as the original notice")
	cmd.Flags().StringSliceVar(&docs, "doc", nil, "document id (repeatable)")
	_ = cmd.MarkFlagRequired("case")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func noticeListCmd() *cobra.Command {
	var caseID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List notices for a case",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				items, err := e.Repo.ListNotices(ctx, caseID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Type", "Number", "Status", "Due", "Demand"})
				for _, n := range items {
					tw.AppendRow(table.Row{n.ID, n.Type, orDash(n.Number), n.Status, orDash(n.DueOn), n.TotalDemand()})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&caseID, "case", "", "case id")
	_ = cmd.MarkFlagRequired("case")
	return cmd
}

func noticeShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <notice-id>",
		Short: "Show a notice with its replies",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				n, err := e.Repo.GetNotice(ctx, args[0])
				if err != nil {
					return err
				}
				replies, err := e.Repo.ListRepliesByNotice(ctx, n.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{
					"notice":       n,
					"total_demand": n.TotalDemand(),
					"replies":      replies,
				})
			})
		},
	}
}

func noticeUpdateCmd() *cobra.Command {
	var number, issuedOn, dueOn, status, step string
	var tax, interest, penalty int64
	cmd := &cobra.Command{
		Use:   "update <notice-id>",
		Short: "Update notice fields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				p := engine.UpdateNoticeParams{NoticeID: args[0], ActorID: viper.GetString("actor-id")}
				if cmd.Flags().Changed("number") {
					p.Number = &number
				}
				if cmd.Flags().Changed("issued-on") {
					p.IssuedOn = &issuedOn
				}
				if cmd.Flags().Changed("due-on") {
					p.DueOn = &dueOn
				}
				if cmd.Flags().Changed("tax") {
					p.TaxAmount = &tax
				}
				if cmd.Flags().Changed("interest") {
					p.InterestAmount = &interest
				}
				if cmd.Flags().Changed("penalty") {
					p.PenaltyAmount = &penalty
				}
				if cmd.Flags().Changed("status") {
					p.Status = &status
				}
				if cmd.Flags().Changed("step") {
					p.WorkflowStep = &step
				}
				n, err := e.UpdateNotice(ctx, p)
				if err != nil {
					return err
				}
				return printJSONOrTable(n)
			})
		},
	}
	cmd.Flags().StringVar(&number, "number", "", "notice number")
	cmd.Flags().StringVar(&issuedOn, "issued-on", "", "issue date")
	cmd.Flags().StringVar(&dueOn, "due-on", "", "due date")
	cmd.Flags().Int64Var(&tax, "tax", 0, "tax demand")
	cmd.Flags().Int64Var(&interest, "interest", 0, "interest demand")
	cmd.Flags().Int64Var(&penalty, "penalty", 0, "penalty demand")
	cmd.Flags().StringVar(&status, "status", "", "status (received, reply_pending, replied, closed)")
	cmd.Flags().StringVar(&step, "step", "", "workflow step (notice, reply, hearing, closed)")
	return cmd
}

func noticeDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <notice-id>",
		Short: "Delete a notice (refused when replies are filed)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				return e.DeleteNotice(ctx, args[0], viper.GetString("actor-id"))
			})
		},
	}
}

func replyCmd() *cobra.Command {
	c := &cobra.Command{Use: "reply", Short: "Replies to notices"}
	c.AddCommand(replyAddCmd())
	c.AddCommand(replyUpdateCmd())
	c.AddCommand(replyDeleteCmd())
	return c
}

func replyAddCmd() *cobra.Command {
	var noticeID, reference, mode, notes string
	var docs []string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Draft a reply to a notice",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				rp, err := e.CreateReply(ctx, engine.ReplyParams{
					NoticeID:    noticeID,
					Reference:   reference,
					FilingMode:  mode,
					Notes:       notes,
					DocumentIDs: docs,
					ActorID:     viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(rp)
			})
		},
	}
	cmd.Flags().StringVar(&noticeID, "notice", "", "notice id")
	cmd.Flags().StringVar(&reference, "reference", "", "filing reference")
	cmd.Flags().StringVar(&mode, "mode", "", "filing mode (portal, physical, email)")
	cmd.Flags().StringVar(&notes, "notes", "", "notes")
	cmd.Flags().StringSliceVar(&docs, "doc", nil, "document id (repeatable)")
	_ = cmd.MarkFlagRequired("notice")
	return cmd
}

func replyUpdateCmd() *cobra.Command {
	var filedOn, reference, status, mode, notes string
	cmd := &cobra.Command{
		Use:   "update <reply-id>",
		Short: "Update a reply (set --status filed to file it)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				p := engine.UpdateReplyParams{ReplyID: args[0], ActorID: viper.GetString("actor-id")}
				if cmd.Flags().Changed("filed-on") {
					p.FiledOn = &filedOn
				}
				if cmd.Flags().Changed("reference") {
					p.Reference = &reference
				}
				if cmd.Flags().Changed("status") {
					p.FilingStatus = &status
				}
				if cmd.Flags().Changed("mode") {
					p.FilingMode = &mode
				}
				if cmd.Flags().Changed("notes") {
					p.Notes = &notes
				}
				rp, err := e.UpdateReply(ctx, p)
				if err != nil {
					return err
				}
				return printJSONOrTable(rp)
			})
		},
	}
	cmd.Flags().StringVar(&filedOn, "filed-on", "", "filing date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&reference, "reference", "", "filing reference")
	cmd.Flags().StringVar(&status, "status", "", "filing status (draft, filed, acknowledged)")
	cmd.Flags().StringVar(&mode, "mode", "", "filing mode")
	cmd.Flags().StringVar(&notes, "notes", "", "notes")
	return cmd
}

func replyDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <reply-id>",
		Short: "Delete a draft reply",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				return e.DeleteReply(ctx, args[0], viper.GetString("actor-id"))
			})
		},
	}
}

func hearingCmd() *cobra.Command {
	c := &cobra.Command{Use: "hearing", Short: "Hearings on a case"}

	var caseID, instanceID, scheduledOn, heldOn, outcome, notes string
	add := &cobra.Command{
		Use:   "add",
		Short: "Record a hearing",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				h, err := e.RecordHearing(ctx, engine.HearingParams{
					CaseID:      caseID,
					InstanceID:  instanceID,
					ScheduledOn: scheduledOn,
					HeldOn:      heldOn,
					Outcome:     outcome,
					Notes:       notes,
					ActorID:     viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(h)
			})
		},
	}
	add.Flags().StringVar(&caseID, "case", "", "case id")
	add.Flags().StringVar(&instanceID, "instance", "", "stage instance id (optional)")
	add.Flags().StringVar(&scheduledOn, "scheduled-on", "", "scheduled date (YYYY-MM-DD)")
	add.Flags().StringVar(&heldOn, "held-on", "", "held date (YYYY-MM-DD)")
	add.Flags().StringVar(&outcome, "outcome", "", "outcome")
	add.Flags().StringVar(&notes, "notes", "", "notes")
	_ = add.MarkFlagRequired("case")

	var listCase string
	list := &cobra.Command{
		Use:   "list",
		Short: "List hearings for a case",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				items, err := e.Repo.ListHearings(ctx, listCase)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	list.Flags().StringVar(&listCase, "case", "", "case id")
	_ = list.MarkFlagRequired("case")

	var upScheduled, upHeld, upOutcome, upNotes string
	update := &cobra.Command{
		Use:   "update <hearing-id>",
		Short: "Update a hearing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				p := engine.UpdateHearingParams{HearingID: args[0], ActorID: viper.GetString("actor-id")}
				if cmd.Flags().Changed("scheduled-on") {
					p.ScheduledOn = &upScheduled
				}
				if cmd.Flags().Changed("held-on") {
					p.HeldOn = &upHeld
				}
				if cmd.Flags().Changed("outcome") {
					p.Outcome = &upOutcome
				}
				if cmd.Flags().Changed("notes") {
					p.Notes = &upNotes
				}
				h, err := e.UpdateHearing(ctx, p)
				if err != nil {
					return err
				}
				return printJSONOrTable(h)
			})
		},
	}
	update.Flags().StringVar(&upScheduled, "scheduled-on", "", "scheduled date")
	update.Flags().StringVar(&upHeld, "held-on", "", "held date")
	update.Flags().StringVar(&upOutcome, "outcome", "", "outcome")
	update.Flags().StringVar(&upNotes, "notes", "", "notes")

	c.AddCommand(add, list, update)
	return c
}

func docCmd() *cobra.Command {
	c := &cobra.Command{Use: "doc", Short: "Document references"}

	var caseID, kind, name, uri string
	add := &cobra.Command{
		Use:   "add",
		Short: "Add a document reference",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				d, err := e.AddDocument(ctx, caseID, kind, name, uri, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	add.Flags().StringVar(&caseID, "case", "", "case id")
	add.Flags().StringVar(&kind, "kind", "", "document kind (matches checklist auto_dms params)")
	add.Flags().StringVar(&name, "name", "", "display name")
	add.Flags().StringVar(&uri, "uri", "", "external DMS URI")
	_ = add.MarkFlagRequired("case")
	_ = add.MarkFlagRequired("kind")
	_ = add.MarkFlagRequired("name")

	var listCase, listKind string
	list := &cobra.Command{
		Use:   "list",
		Short: "List documents for a case",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				items, err := e.Repo.ListDocuments(ctx, listCase, listKind)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	list.Flags().StringVar(&listCase, "case", "", "case id")
	list.Flags().StringVar(&listKind, "kind", "", "kind filter")
	_ = list.MarkFlagRequired("case")

	c.AddCommand(add, list)
	return c
}

func approvalCmd() *cobra.Command {
	c := &cobra.Command{Use: "approval", Short: "Transition approvals"}

	var reqComments string
	request := &cobra.Command{
		Use:   "request <transition-id>",
		Short: "Request approval for a gated transition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				a, err := e.RequestApproval(ctx, args[0], viper.GetString("actor-id"), reqComments)
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	request.Flags().StringVar(&reqComments, "comments", "", "comments")

	var approve, reject bool
	var decideComments string
	decide := &cobra.Command{
		Use:   "decide <transition-id>",
		Short: "Approve or reject a pending transition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if approve == reject {
				return fmt.Errorf("exactly one of --approve or --reject is required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				a, err := e.Decide(ctx, args[0], viper.GetString("actor-id"), approve, decideComments)
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	decide.Flags().BoolVar(&approve, "approve", false, "approve the transition")
	decide.Flags().BoolVar(&reject, "reject", false, "reject the transition and revert the case")
	decide.Flags().StringVar(&decideComments, "comments", "", "comments")

	var comment string
	commentCmd := &cobra.Command{
		Use:   "comment <transition-id>",
		Short: "Comment on an approval thread",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				a, err := e.Comment(ctx, args[0], viper.GetString("actor-id"), comment)
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	commentCmd.Flags().StringVar(&comment, "comments", "", "comment text")
	_ = commentCmd.MarkFlagRequired("comments")

	list := &cobra.Command{
		Use:   "list <transition-id>",
		Short: "Show the approval thread",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				items, err := e.ApprovalThread(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}

	c.AddCommand(request, decide, commentCmd, list)
	return c
}

func roleCmd() *cobra.Command {
	c := &cobra.Command{Use: "role", Short: "Actor roles"}

	var actor, role string
	assign := &cobra.Command{
		Use:   "assign",
		Short: "Assign a role to an actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			if actor == "" || role == "" {
				return fmt.Errorf("--actor and --role required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				now := time.Now().UTC().Format(time.RFC3339)
				if err := e.Repo.EnsureActor(ctx, actor, now); err != nil {
					return err
				}
				return e.Repo.AssignRole(ctx, e.Config.Firm.ID, actor, role)
			})
		},
	}
	assign.Flags().StringVar(&actor, "actor", "", "actor id")
	assign.Flags().StringVar(&role, "role", "", "role id (e.g. partner, principal, associate)")

	var rmActor, rmRole string
	remove := &cobra.Command{
		Use:   "remove",
		Short: "Remove a role from an actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			if rmActor == "" || rmRole == "" {
				return fmt.Errorf("--actor and --role required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				return e.Repo.RemoveRole(ctx, e.Config.Firm.ID, rmActor, rmRole)
			})
		},
	}
	remove.Flags().StringVar(&rmActor, "actor", "", "actor id")
	remove.Flags().StringVar(&rmRole, "role", "", "role id")

	show := &cobra.Command{
		Use:   "show <actor-id>",
		Short: "Show an actor's roles",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				roles, err := e.Repo.ActorRoles(ctx, e.Config.Firm.ID, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"actor_id": args[0], "roles": roles})
			})
		},
	}

	c.AddCommand(assign, remove, show)
	return c
}

func apikeyCmd() *cobra.Command {
	c := &cobra.Command{Use: "apikey", Short: "API keys for HTTP access"}

	var actor, name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an API key (shown once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if actor == "" {
				actor = viper.GetString("actor-id")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				now := time.Now().UTC().Format(time.RFC3339)
				if err := e.Repo.EnsureActor(ctx, actor, now); err != nil {
					return err
				}
				raw := uuid.NewString()
				key := domain.APIKey{
					ID:        uuid.NewString(),
					ActorID:   actor,
					Name:      name,
					KeyHash:   repo.HashAPIKey(raw),
					CreatedAt: now,
				}
				if err := e.Repo.CreateAPIKey(ctx, key); err != nil {
					return err
				}
				fmt.Println("API key (store it now, it is not shown again):", raw)
				return nil
			})
		},
	}
	create.Flags().StringVar(&actor, "actor", "", "actor id (defaults to --actor-id)")
	create.Flags().StringVar(&name, "name", "", "key label")

	var listActor string
	list := &cobra.Command{
		Use:   "list",
		Short: "List API keys for an actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			if listActor == "" {
				listActor = viper.GetString("actor-id")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r *repo.Repo) error {
				items, err := r.ListAPIKeys(ctx, listActor)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	list.Flags().StringVar(&listActor, "actor", "", "actor id")

	c.AddCommand(create, list)
	return c
}

func logCmd() *cobra.Command {
	c := &cobra.Command{Use: "log", Short: "Audit event log"}

	var n int
	var caseID, evtType string
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r *repo.Repo) error {
				events, err := r.LatestEvents(ctx, n, caseID, evtType)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "TS", "Type", "Case", "Entity", "Actor"})
				for _, evt := range events {
					tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, evt.CaseID, evt.EntityKind, evt.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	tail.Flags().IntVar(&n, "n", 20, "number of events")
	tail.Flags().StringVar(&caseID, "case", "", "case id filter")
	tail.Flags().StringVar(&evtType, "type", "", "event type filter")

	c.AddCommand(tail)
	return c
}

func serveCmd() *cobra.Command {
	var addr, basePath string
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
			r := repo.New(conn)
			_, cfg, err := app.ResolveFirmAndConfig(cmd.Context(), viper.GetString("firm"), viper.GetString("actor-id"), r)
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			authCfg := server.AuthConfig{JWTSecret: os.Getenv("STAGELINE_JWT_SECRET")}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("STAGELINE_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Stageline API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, *engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	r := repo.New(conn)
	_, cfg, err := app.ResolveFirmAndConfig(ctx, viper.GetString("firm"), viper.GetString("actor-id"), r)
	if err != nil {
		return err
	}
	return fn(ctx, engine.New(conn, cfg))
}

func withRepo(ctx context.Context, fn func(context.Context, *repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.New(conn))
}

func resolveCase(ctx context.Context, e *engine.Engine, args []string, number string) (domain.Case, error) {
	if len(args) == 1 && args[0] != "" {
		return e.Repo.GetCase(ctx, args[0])
	}
	if number != "" {
		return e.Repo.GetCaseByNumber(ctx, e.Config.Firm.ID, number)
	}
	return domain.Case{}, fmt.Errorf("case id or --number required")
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func ptrOrDash(s *string) string {
	if s == nil {
		return "-"
	}
	return orDash(*s)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func setEnvValue(path, key, value string) error {
	var lines []string
	seen := false
	f, err := os.Open(path)
	if err == nil {
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.HasPrefix(line, key+"=") {
				lines = append(lines, fmt.Sprintf("%s=%s", key, value))
				seen = true
			} else {
				lines = append(lines, line)
			}
		}
		if err := scanner.Err(); err != nil {
			f.Close()
			return err
		}
		f.Close()
	} else if !os.IsNotExist(err) {
		return err
	}
	if !seen {
		lines = append(lines, fmt.Sprintf("%s=%s", key, value))
	}
	content := strings.Join(lines, "\n")
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	return os.WriteFile(path, []byte(content), 0o644)
}
