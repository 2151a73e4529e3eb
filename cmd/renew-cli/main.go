package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"renewbot-backend/services/accounts"
	"renewbot-backend/services/auditlog"
	"renewbot-backend/services/reporter"
	"renewbot-backend/services/sites"

	"github.com/go-resty/resty/v2"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var addr string

func apiClient() *resty.Client {
	client := resty.New()
	client.SetBaseURL(addr)
	client.SetTimeout(time.Minute * 10)
	return client
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(1)
}

func apiError(res *resty.Response) error {
	return fmt.Errorf("%s: %s", res.Status(), res.String())
}

var rootCmd = &cobra.Command{
	Use:   "renew-cli",
	Short: "operator cli for the renewal daemon",
}

var accountsCmd = &cobra.Command{
	Use:   "accounts <uid>",
	Short: "list a user's accounts",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		var views []accounts.AccountView
		res, err := apiClient().R().
			SetResult(&views).
			Get(fmt.Sprintf("/api/users/%s/accounts", args[0]))
		if err != nil {
			fail(err)
		}
		if res.IsError() {
			fail(apiError(res))
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"site", "account", "session"})
		for _, view := range views {
			session := "-"
			if view.HasSession {
				session = "yes"
			}
			t.AppendRow(table.Row{view.Site, view.MaskedName, session})
		}
		t.Render()
	},
}

var runCmd = &cobra.Command{
	Use:   "run <uid>",
	Short: "run a renewal batch for one user",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		var body struct {
			Results      map[string]map[string][]sites.RenewalResult `json:"results"`
			PersistError string                                      `json:"persistError"`
		}
		res, err := apiClient().R().
			SetResult(&body).
			Post(fmt.Sprintf("/api/users/%s/batch", args[0]))
		if err != nil {
			fail(err)
		}
		if res.IsError() {
			fail(apiError(res))
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"site", "account", "outcome", "message"})
		for _, siteResults := range body.Results {
			for site, results := range siteResults {
				for _, result := range results {
					t.AppendRow(table.Row{site, result.Account, result.Outcome, result.Message})
				}
			}
		}
		t.Render()

		if body.PersistError != "" {
			fmt.Fprintln(os.Stderr, "warning: persistence failed:", body.PersistError)
			os.Exit(1)
		}
	},
}

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "run the admin-wide summary batch",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		var page reporter.Page
		res, err := apiClient().R().
			SetResult(&page).
			Post("/api/summary")
		if err != nil {
			fail(err)
		}
		if res.IsError() {
			fail(apiError(res))
		}
		fmt.Println(page.Content)
		fmt.Printf("result id: %s (pages: %d)\n", page.ResultId, page.TotalPages)
	},
}

var pageCmd = &cobra.Command{
	Use:   "page <resultId> <page>",
	Short: "show one page of a registered result set",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		pageNum, err := strconv.Atoi(args[1])
		if err != nil {
			fail(fmt.Errorf("page must be an integer: %w", err))
		}

		var page reporter.Page
		res, err := apiClient().R().
			SetResult(&page).
			Get(fmt.Sprintf("/api/results/%s/pages/%d", args[0], pageNum))
		if err != nil {
			fail(err)
		}
		if res.IsError() {
			fail(apiError(res))
		}
		fmt.Println(page.Content)
		if page.HasNext {
			fmt.Printf("next: renew-cli page %s %d\n", page.ResultId, page.Number+1)
		}
	},
}

var statsDays int

var statsCmd = &cobra.Command{
	Use:   "stats <uid>",
	Short: "show a user's credit stats",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		var stats auditlog.CreditStats
		res, err := apiClient().R().
			SetResult(&stats).
			SetQueryParam("days", strconv.Itoa(statsDays)).
			Get(fmt.Sprintf("/api/users/%s/stats", args[0]))
		if err != nil {
			fail(err)
		}
		if res.IsError() {
			fail(apiError(res))
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"window", "total", "active days", "daily average"})
		t.AppendRow(table.Row{
			fmt.Sprintf("%dd", statsDays),
			stats.Total,
			stats.ActiveDays,
			fmt.Sprintf("%.1f", stats.DailyAverage),
		})
		t.Render()
	},
}

var addDisplayName string

var addCmd = &cobra.Command{
	Use:   "add <uid> <site> <account> <password>",
	Short: "add an account (credentials are verified with a live login)",
	Args:  cobra.ExactArgs(4),
	Run: func(cmd *cobra.Command, args []string) {
		res, err := apiClient().R().
			SetBody(map[string]string{
				"displayName": addDisplayName,
				"site":        args[1],
				"account":     args[2],
				"password":    args[3],
			}).
			Post(fmt.Sprintf("/api/users/%s/accounts", args[0]))
		if err != nil {
			fail(err)
		}
		if res.IsError() {
			fail(apiError(res))
		}
		fmt.Println("added")
	},
}

var removeCmd = &cobra.Command{
	Use:   "remove <uid> <site> <account>",
	Short: "remove an account (use -all as the account to clear a site)",
	Args:  cobra.ExactArgs(3),
	Run: func(cmd *cobra.Command, args []string) {
		res, err := apiClient().R().
			Delete(fmt.Sprintf("/api/users/%s/accounts/%s/%s", args[0], args[1], args[2]))
		if err != nil {
			fail(err)
		}
		if res.IsError() {
			fail(apiError(res))
		}
		fmt.Println("removed")
	},
}

var settimeCmd = &cobra.Command{
	Use:   "settime <uid> <hour> <minute>",
	Short: "set a user's daily run time (hour 0-9)",
	Args:  cobra.ExactArgs(3),
	Run: func(cmd *cobra.Command, args []string) {
		hour, err := strconv.Atoi(args[1])
		if err != nil {
			fail(fmt.Errorf("hour must be an integer: %w", err))
		}
		minute, err := strconv.Atoi(args[2])
		if err != nil {
			fail(fmt.Errorf("minute must be an integer: %w", err))
		}

		res, err := apiClient().R().
			SetBody(map[string]int{"hour": hour, "minute": minute}).
			Put(fmt.Sprintf("/api/users/%s/schedule", args[0]))
		if err != nil {
			fail(err)
		}
		if res.IsError() {
			fail(apiError(res))
		}
		fmt.Printf("scheduled daily at %02d:%02d\n", hour, minute)
	},
}

func main() {
	rootCmd.PersistentFlags().StringVar(&addr, "addr", "http://localhost:8080", "daemon address")
	statsCmd.Flags().IntVar(&statsDays, "days", 7, "trailing window in days")
	addCmd.Flags().StringVar(&addDisplayName, "name", "", "display name for the user")

	rootCmd.AddCommand(accountsCmd, runCmd, summaryCmd, pageCmd, statsCmd, addCmd, removeCmd, settimeCmd)
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
