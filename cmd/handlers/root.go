/*
Copyright © 2025 Your Name

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package handlers

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command with all subcommands attached.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "cyberbrief",
		Short: "CyberBrief aggregates cyber-security news into AI digests and CVE exposure reports.",
		Long: `CyberBrief ingests security news from per-user feeds, filters it by
keywords, enriches articles with extracted entities and CVE data from NVD and
the CISA KEV catalog, clusters related articles into stories, and produces AI
briefings and periodic intelligence reports.

It also matches article CVEs against each user's declared technology stack to
maintain a running exposure ledger with remediation metrics.`,
	}

	rootCmd.AddCommand(NewDigestCmd())
	rootCmd.AddCommand(NewScheduleCmd())
	rootCmd.AddCommand(NewServeCmd())
	rootCmd.AddCommand(NewMigrateCmd())

	return rootCmd
}
