package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/prreview/internal/api"
	"github.com/joescharf/prreview/internal/git"
	"github.com/joescharf/prreview/internal/models"
	"github.com/joescharf/prreview/internal/output"
	"github.com/joescharf/prreview/internal/pipeline"
	"github.com/joescharf/prreview/internal/store"
)

// gitClient reads the working directory checkout, replaceable in tests.
var gitClient git.Client = git.NewClient()

var (
	reviewToken  string
	resultFormat string
	submitServer string
	tasksStatus  string
	tasksLimit   int
)

var reviewCmd = &cobra.Command{
	Use:   "review [repo] <pr-number>",
	Short: "Review a pull request in the foreground",
	Long: `Create a review task and run it to completion in this process, then print
the report. [repo] is a GitHub URL, an SSH remote or owner/repo; when omitted
the origin remote of the current directory is used.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, pr, err := repoAndPR(args)
		if err != nil {
			return err
		}
		return reviewRun(cmd.Context(), repo, pr)
	},
}

var submitCmd = &cobra.Command{
	Use:   "submit [repo] <pr-number>",
	Short: "Submit a pull request to a running server",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, pr, err := repoAndPR(args)
		if err != nil {
			return err
		}
		return submitRun(cmd.Context(), repo, pr)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <task-id>",
	Short: "Show the status of a review task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return statusRun(cmd.Context(), args[0])
	},
}

var resultCmd = &cobra.Command{
	Use:   "result <task-id>",
	Short: "Show the report of a review task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return resultRun(cmd.Context(), args[0])
	},
}

var tasksCmd = &cobra.Command{
	Use:     "tasks",
	Aliases: []string{"ls"},
	Short:   "List recent review tasks",
	RunE: func(cmd *cobra.Command, args []string) error {
		return tasksRun(cmd.Context())
	},
}

func init() {
	reviewCmd.Flags().StringVar(&reviewToken, "token", "", "GitHub token (default github.token)")
	reviewCmd.Flags().StringVarP(&resultFormat, "format", "f", "table", "Output format: table, json, markdown")

	submitCmd.Flags().StringVar(&reviewToken, "token", "", "GitHub token forwarded to the server")
	submitCmd.Flags().StringVar(&submitServer, "server", "http://localhost:8000", "Server base URL")

	resultCmd.Flags().StringVarP(&resultFormat, "format", "f", "table", "Output format: table, json, markdown")

	tasksCmd.Flags().StringVarP(&tasksStatus, "status", "s", "", "Filter by status: pending, processing, completed, failed")
	tasksCmd.Flags().IntVarP(&tasksLimit, "limit", "l", 20, "Maximum number of tasks")

	rootCmd.AddCommand(reviewCmd)
	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(resultCmd)
	rootCmd.AddCommand(tasksCmd)
}

// repoAndPR splits [repo] <pr-number>, detecting the repo from the working
// directory when only the number is given.
func repoAndPR(args []string) (repo, pr string, err error) {
	if len(args) == 2 {
		return args[0], args[1], nil
	}
	repo, err = git.DetectRepo(gitClient, ".")
	if err != nil {
		return "", "", fmt.Errorf("cannot detect repository (pass it explicitly): %w", err)
	}
	ui.VerboseLog("Detected repository %s", repo)
	return repo, args[0], nil
}

func parsePRNumber(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid pull request number: %s", s)
	}
	return n, nil
}

func reviewRun(ctx context.Context, repo, pr string) error {
	prNumber, err := parsePRNumber(pr)
	if err != nil {
		return err
	}
	if err := checkFormat(resultFormat); err != nil {
		return err
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, shutdownSignals()...)
	defer stop()

	s, err := getStore()
	if err != nil {
		return err
	}
	orch, err := newOrchestrator(s)
	if err != nil {
		return err
	}

	task, err := orch.Submit(ctx, pipeline.SubmitRequest{RepoURL: repo, PRNumber: prNumber, GitHubToken: reviewToken})
	if err != nil {
		return err
	}
	ui.VerboseLog("Task %s created", task.ID)

	start := time.Now()
	runErr := orch.Run(ctx, task.ID, reviewToken)

	task, err = s.GetTask(context.WithoutCancel(ctx), task.ID)
	if err != nil {
		return err
	}
	ui.VerboseLog("Finished in %s", time.Since(start).Round(time.Millisecond))

	if err := printResult(task, resultFormat); err != nil {
		return err
	}
	return reviewFailure(task, runErr)
}

// reviewFailure reports a failed run, preferring the message stored on the task.
func reviewFailure(task *models.ReviewTask, runErr error) error {
	if runErr == nil {
		return nil
	}
	if task == nil || task.Error == "" {
		return fmt.Errorf("review failed: %w", runErr)
	}
	return fmt.Errorf("review failed: %s", task.Error)
}

func submitRun(ctx context.Context, repo, pr string) error {
	prNumber, err := parsePRNumber(pr)
	if err != nil {
		return err
	}

	token := ""
	if secret := viper.GetString("auth.jwt_secret"); secret != "" {
		token, err = api.NewToken(secret, viper.GetString("auth.subject"), 5*time.Minute)
		if err != nil {
			return err
		}
	}

	if dryRun {
		ui.DryRunMsg("Would submit %s #%d to %s", repo, prNumber, submitServer)
		return nil
	}

	resp, err := api.NewClient(submitServer, token).Submit(ctx, pipeline.SubmitRequest{
		RepoURL:     repo,
		PRNumber:    prNumber,
		GitHubToken: reviewToken,
	})
	if err != nil {
		return err
	}

	ui.Success("Submitted %s #%d: task %s (%s)", repo, prNumber, output.Cyan(resp.TaskID), resp.Status)
	return nil
}

func statusRun(ctx context.Context, id string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	task, err := store.FindTask(ctx, s, id)
	if err != nil {
		return err
	}
	ui.TaskHeader(task)
	if task.StartedAt != nil {
		ui.VerboseLog("Started:   %s", task.StartedAt.Local().Format(time.DateTime))
	}
	if task.CompletedAt != nil {
		ui.VerboseLog("Completed: %s", task.CompletedAt.Local().Format(time.DateTime))
	}
	return nil
}

func resultRun(ctx context.Context, id string) error {
	if err := checkFormat(resultFormat); err != nil {
		return err
	}
	s, err := getStore()
	if err != nil {
		return err
	}
	task, err := store.FindTask(ctx, s, id)
	if err != nil {
		return err
	}
	return printResult(task, resultFormat)
}

func tasksRun(ctx context.Context) error {
	status := models.TaskStatus(tasksStatus)
	if status != "" && !status.Valid() {
		return fmt.Errorf("invalid status: %s", tasksStatus)
	}

	s, err := getStore()
	if err != nil {
		return err
	}
	tasks, err := s.ListTasks(ctx, store.TaskListFilter{Status: status, Limit: tasksLimit})
	if err != nil {
		return err
	}
	return ui.TaskTable(tasks)
}

func checkFormat(format string) error {
	switch format {
	case "table", "json", "markdown", "md":
		return nil
	default:
		return fmt.Errorf("unknown format %q (want table, json or markdown)", format)
	}
}

// printResult renders a task in the requested format. json uses the same
// shape as GET /github/results/{id}.
func printResult(task *models.ReviewTask, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(ui.Out)
		enc.SetIndent("", "  ")
		return enc.Encode(api.NewResultsResponse(task))
	case "markdown", "md":
		return output.Markdown(ui.Out, task)
	default:
		ui.TaskHeader(task)
		if task.Status != models.TaskStatusCompleted {
			return nil
		}
		fmt.Fprintln(ui.Out)
		return ui.ReviewTable(task.Result)
	}
}
