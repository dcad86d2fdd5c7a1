package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/noah-isme/sma-timetable-api/internal/bootstrap"
	"github.com/noah-isme/sma-timetable-api/internal/dto"
	"github.com/noah-isme/sma-timetable-api/internal/models"
	"github.com/noah-isme/sma-timetable-api/pkg/storage"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Build applies the schema before wiring services.
			return withServices(cmd, func(ctx context.Context, svc *bootstrap.Services) error {
				fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
				return nil
			})
		},
	}
}

func generateCmd() *cobra.Command {
	var (
		sectionID string
		save      bool
		publish   bool
	)
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a timetable for a section",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd, func(ctx context.Context, svc *bootstrap.Services) error {
				proposal, err := svc.Timetables.Generate(ctx, dto.GenerateTimetableRequest{SectionID: sectionID}, actor)
				if err != nil {
					return err
				}
				if !save && !publish {
					return printJSON(cmd.OutOrStdout(), proposal)
				}
				timetable, err := svc.Timetables.Save(ctx, dto.SaveTimetableRequest{ProposalID: proposal.ProposalID, Publish: publish}, actor)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), timetable)
			})
		},
	}
	cmd.Flags().StringVar(&sectionID, "section", "", "Section ID")
	cmd.Flags().BoolVar(&save, "save", false, "Save the proposal as a new draft version")
	cmd.Flags().BoolVar(&publish, "publish", false, "Save and publish the proposal")
	_ = cmd.MarkFlagRequired("section")
	return cmd
}

func publishCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "publish <timetable-id>",
		Short: "Publish a saved timetable version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd, func(ctx context.Context, svc *bootstrap.Services) error {
				timetable, err := svc.Timetables.Publish(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), timetable)
			})
		},
	}
}

func roomStatusCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "room-status <room-id> <status>",
		Short: "Change a room's status (active|in_maintenance|reserved|closed|offline)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd, func(ctx context.Context, svc *bootstrap.Services) error {
				req := dto.UpdateRoomStatusRequest{Status: models.RoomStatus(args[1]), Reason: reason}
				result, err := svc.RoomStatus.UpdateStatus(ctx, args[0], req, actor)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), result)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "Reason for the change")
	return cmd
}

func conflictsCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "conflicts",
		Short: "List room conflicts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd, func(ctx context.Context, svc *bootstrap.Services) error {
				conflicts, _, err := svc.Regeneration.List(ctx, dto.ConflictQuery{Status: status, PageSize: 200})
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), conflicts)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "active", "Filter by status (active|resolved|dismissed)")
	return cmd
}

func resolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <conflict-id>",
		Short: "Auto-regenerate rooms for a conflict",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd, func(ctx context.Context, svc *bootstrap.Services) error {
				report, err := svc.Regeneration.Resolve(ctx, args[0], actor)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), report)
			})
		},
	}
}

func dismissCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "dismiss <conflict-id>",
		Short: "Dismiss a conflict without resolving it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd, func(ctx context.Context, svc *bootstrap.Services) error {
				conflict, err := svc.Regeneration.Dismiss(ctx, args[0], dto.DismissConflictRequest{Reason: reason}, actor)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), conflict)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "Why the conflict is dismissed")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func auditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect and maintain the room audit trail",
	}
	cmd.AddCommand(auditHistoryCmd())
	cmd.AddCommand(auditPurgeCmd())
	cmd.AddCommand(auditExportCmd())
	return cmd
}

func auditHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <schedule-item-id>",
		Short: "Show the room history of a schedule slot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd, func(ctx context.Context, svc *bootstrap.Services) error {
				logs, err := svc.AuditTrail.EntryHistory(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), logs)
			})
		},
	}
}

func auditPurgeCmd() *cobra.Command {
	var before string
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete audit rows created before a date, or past the retention window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd, func(ctx context.Context, svc *bootstrap.Services) error {
				var (
					result *dto.PurgeResult
					err    error
				)
				if before != "" {
					result, err = svc.AuditTrail.Purge(ctx, dto.PurgeAuditRequest{Before: before})
				} else {
					result, err = svc.AuditTrail.PurgeExpired(ctx)
				}
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), result)
			})
		},
	}
	cmd.Flags().StringVar(&before, "before", "", "Cutoff date (YYYY-MM-DD); defaults to the configured retention")
	return cmd
}

func auditExportCmd() *cobra.Command {
	var (
		format string
		dir    string
		query  dto.AuditLogQuery
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the filtered audit trail to a CSV or PDF file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := storage.NewExportDir(dir)
			if err != nil {
				return err
			}
			return withServices(cmd, func(ctx context.Context, svc *bootstrap.Services) error {
				export, err := svc.AuditTrail.Export(ctx, dto.AuditExportRequest{AuditLogQuery: query, Format: format})
				if err != nil {
					return err
				}
				path, err := out.Save(export.Filename, export.Data)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), path)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&format, "format", "csv", "Output format (csv|pdf)")
	cmd.Flags().StringVar(&dir, "dir", "./exports", "Directory to write the export to")
	cmd.Flags().StringVar(&query.From, "from", "", "Start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&query.To, "to", "", "End date, inclusive (YYYY-MM-DD)")
	cmd.Flags().StringVar(&query.ActorID, "actor-id", "", "Only rows by this actor")
	cmd.Flags().StringVar(&query.ChangeType, "change-type", "", "auto_regeneration|manual_adjustment|forced_update")
	cmd.Flags().StringVar(&query.RoomID, "room", "", "Only rows touching this room")
	cmd.Flags().StringVar(&query.ConflictID, "conflict", "", "Only rows for this conflict")
	return cmd
}
