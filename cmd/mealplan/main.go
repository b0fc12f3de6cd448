// Command mealplan drives the meal planning pipeline from the command line.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"mealplan/internal/app"
	"mealplan/internal/config"
	"mealplan/internal/database"
	"mealplan/internal/logging"
	"mealplan/internal/preferences"
	"mealplan/internal/recipe"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// env is built once per invocation by the root command.
type env struct {
	cfg    *config.Config
	logger *zap.Logger
}

func rootCmd() *cobra.Command {
	e := &env{}
	cmd := &cobra.Command{
		Use:           "mealplan",
		Short:         "Retrieval-augmented meal planner",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.NewFromEnv()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			e.cfg = cfg
			e.logger = logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if e.logger != nil {
				_ = e.logger.Sync()
			}
		},
	}

	cmd.AddCommand(
		migrateCmd(e),
		indexCmd(e),
		planCmd(e),
		modifyCmd(e),
		finalizeCmd(e),
		replaceCmd(e),
		groceryCmd(e),
		seedPreferencesCmd(e),
		reportCmd(e),
		metricsCleanupCmd(e),
	)
	return cmd
}

// withApp opens the application for the duration of fn.
func (e *env) withApp(ctx context.Context, fn func(a *app.App) error) error {
	a, err := app.Open(ctx, e.cfg, e.logger, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			e.logger.Warn("failed to close application", zap.Error(err))
		}
	}()
	return fn(a)
}

func migrateCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := database.RunMigrations(e.cfg.DatabasePath); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Database %s is up to date.\n", e.cfg.DatabasePath)
			return nil
		},
	}
}

func indexCmd(e *env) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Index pre-classified recipes from a JSON file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			recipes, err := loadRecipes(file)
			if err != nil {
				return err
			}
			return e.withApp(cmd.Context(), func(a *app.App) error {
				n, err := a.IndexRecipes(cmd.Context(), recipes)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Indexed %d of %d recipes.\n", n, len(recipes))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "JSON array of recipes")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func planCmd(e *env) *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:   "plan <request>",
		Short: "Generate a new meal plan",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return e.withApp(cmd.Context(), func(a *app.App) error {
				resp, err := a.GeneratePlan(cmd.Context(), user, strings.Join(args, " "))
				if err != nil {
					return err
				}
				printPlanResponse(cmd.OutOrStdout(), resp)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "user id")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func modifyCmd(e *env) *cobra.Command {
	var token string
	cmd := &cobra.Command{
		Use:   "modify <feedback>",
		Short: "Change the plan of an open session",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return e.withApp(cmd.Context(), func(a *app.App) error {
				resp, err := a.ModifyPlan(cmd.Context(), token, strings.Join(args, " "))
				if err != nil {
					return err
				}
				printPlanResponse(cmd.OutOrStdout(), resp)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&token, "session", "", "session token")
	_ = cmd.MarkFlagRequired("session")
	return cmd
}

func finalizeCmd(e *env) *cobra.Command {
	var token string
	cmd := &cobra.Command{
		Use:   "finalize",
		Short: "Accept the plan of an open session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return e.withApp(cmd.Context(), func(a *app.App) error {
				planID, err := a.FinalizePlan(cmd.Context(), token)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Plan %s finalized.\n", planID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&token, "session", "", "session token")
	_ = cmd.MarkFlagRequired("session")
	return cmd
}

func replaceCmd(e *env) *cobra.Command {
	var planID, day, meal, oldID, choose string
	cmd := &cobra.Command{
		Use:   "replace",
		Short: "Suggest or commit a replacement for one meal",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return e.withApp(cmd.Context(), func(a *app.App) error {
				resp, err := a.ReplaceRecipe(cmd.Context(), planID, day, meal, oldID, choose)
				if err != nil {
					return err
				}
				printReplaceResponse(cmd.OutOrStdout(), resp)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&planID, "plan", "", "plan id")
	cmd.Flags().StringVar(&day, "day", "", "day number or weekday")
	cmd.Flags().StringVar(&meal, "meal", "", "breakfast, lunch, dinner or snack")
	cmd.Flags().StringVar(&oldID, "old", "", "recipe id currently in the slot")
	cmd.Flags().StringVar(&choose, "choose", "", "candidate id to commit; omit to list candidates")
	for _, f := range []string{"plan", "day", "meal", "old"} {
		_ = cmd.MarkFlagRequired(f)
	}
	return cmd
}

func groceryCmd(e *env) *cobra.Command {
	var planID string
	var refresh bool
	cmd := &cobra.Command{
		Use:   "grocery",
		Short: "Print the grocery list of a plan",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return e.withApp(cmd.Context(), func(a *app.App) error {
				list, err := a.GetGroceryList(cmd.Context(), planID, refresh)
				if err != nil {
					return err
				}
				printGroceryList(cmd.OutOrStdout(), list)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&planID, "plan", "", "plan id")
	cmd.Flags().BoolVar(&refresh, "refresh", false, "rebuild even when cached")
	_ = cmd.MarkFlagRequired("plan")
	return cmd
}

func seedPreferencesCmd(e *env) *cobra.Command {
	var user string
	var p preferences.Preferences
	cmd := &cobra.Command{
		Use:   "seed-preferences",
		Short: "Store a user's dietary preferences",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return e.withApp(cmd.Context(), func(a *app.App) error {
				if err := a.SavePreferences(cmd.Context(), user, p); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Preferences saved for %s.\n", user)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "user id")
	cmd.Flags().StringSliceVar(&p.DietaryRestrictions, "diet", nil, "dietary restrictions, e.g. vegetarian,gluten-free")
	cmd.Flags().StringSliceVar(&p.Allergies, "allergy", nil, "allergies")
	cmd.Flags().StringSliceVar(&p.CuisinePreferences, "cuisine", nil, "preferred cuisines")
	cmd.Flags().StringSliceVar(&p.DislikedIngredients, "dislike", nil, "disliked ingredients")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func reportCmd(e *env) *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print system health and LLM usage",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return e.withApp(cmd.Context(), func(a *app.App) error {
				report, err := a.UsageReport(cmd.Context(), days)
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), report)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", 7, "days of usage to include")
	return cmd
}

func metricsCleanupCmd(e *env) *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "metrics-cleanup",
		Short: "Delete old execution metrics and expired sessions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return e.withApp(cmd.Context(), func(a *app.App) error {
				metricsDeleted, err := a.CleanupMetrics(cmd.Context(), days)
				if err != nil {
					return err
				}
				sessionsDeleted, err := a.CleanupSessions(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d metrics older than %d days and %d expired sessions.\n",
					metricsDeleted, days, sessionsDeleted)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", 30, "keep metrics newer than this many days")
	return cmd
}

func loadRecipes(path string) ([]recipe.Recipe, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read recipes file: %w", err)
	}
	var recipes []recipe.Recipe
	if err := json.Unmarshal(data, &recipes); err != nil {
		return nil, fmt.Errorf("failed to parse recipes file %s: %w", path, err)
	}
	return recipes, nil
}
