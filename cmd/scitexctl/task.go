package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Enqueue public tasks and read their results",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("error: Command 'task' requires a subcommand (enqueue, result)")
		fmt.Println()
		_ = cmd.Help()
		os.Exit(1)
	},
}

var taskEnqueueCmd = &cobra.Command{
	Use:   "enqueue <task> [json-args]",
	Short: "Enqueue a task",
	Long: `Enqueue a task with JSON arguments and print its id.

Example:
  scitexctl task enqueue writer.compile_latex '{"project_id": "4f1c...", "main": "main.tex"}'`,
	Args: cobra.RangeArgs(1, 2),
	Run: func(cmd *cobra.Command, args []string) {
		var body map[string]interface{}
		if len(args) == 2 {
			exitOnError("Invalid task arguments", json.Unmarshal([]byte(args[1]), &body))
		}

		c, err := newAPIClient()
		exitOnError("Failed to enqueue task", err)

		var res struct {
			TaskID string `json:"task_id"`
			Queue  string `json:"queue"`
		}
		exitOnError("Failed to enqueue task", c.do(cmd.Context(), http.MethodPost, "/code/api/tasks/"+args[0]+"/", body, &res))
		fmt.Fprintf(os.Stderr, "Enqueued %s on queue %s\n", args[0], res.Queue)
		fmt.Println(res.TaskID)
	},
}

var taskResultCmd = &cobra.Command{
	Use:   "result <task-id>",
	Short: "Show the result of a task",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		c, err := newAPIClient()
		exitOnError("Failed to get task result", err)

		var res map[string]interface{}
		exitOnError("Failed to get task result", c.do(cmd.Context(), http.MethodGet, "/code/api/tasks/"+args[0]+"/result/", nil, &res))
		delete(res, "success")
		printJSON(res)
	},
}

func init() {
	rootCmd.AddCommand(taskCmd)
	taskCmd.AddCommand(taskEnqueueCmd)
	taskCmd.AddCommand(taskResultCmd)
}
