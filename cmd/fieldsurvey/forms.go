package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/paulexconde/fieldsurvey/internal/models"
)

var formCmd = &cobra.Command{
	Use:   "form",
	Short: "Manage form designs",
}

var formImportCmd = &cobra.Command{
	Use:   "import [file.yaml]",
	Short: "Create a form from a YAML definition",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()

		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		form, err := fs.Importer.Import(ctx, fs.Scope, f)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "imported form %d %q with %d items\n", form.ID, form.Name, len(form.Items))
		return nil
	},
}

var (
	itemForm     int
	itemParent   int
	itemQuestion int
	itemGroup    bool
	itemHidden   bool
	itemID       int
	itemRank     int
)

var itemCmd = &cobra.Command{
	Use:   "item",
	Short: "Edit the item tree of a form",
}

var itemAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Append a group or question at the bottom of a parent",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()

		item := models.FormItem{Kind: models.KindQuestioning, Hidden: itemHidden}
		if itemGroup {
			item.Kind = models.KindGroup
		} else if cmd.Flags().Changed("question") {
			item.QuestionID = &itemQuestion
		}

		added, err := fs.FormTree.AddItem(ctx, fs.Scope, itemForm, itemParent, item)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "added %s %d at rank %d\n", added.Kind, added.ID, added.Rank)
		return nil
	},
}

var itemTreeCmd = &cobra.Command{
	Use:   "tree",
	Short: "Print the item tree of a form",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()

		items, err := fs.FormTree.Outline(ctx, itemForm)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, it := range items {
			indent := strings.Repeat("  ", it.Depth())
			if it.IsGroup() {
				fmt.Fprintf(out, "%s%d. group %d\n", indent, it.Rank, it.ID)
				continue
			}
			line := fmt.Sprintf("%s%d. item %d", indent, it.Rank, it.ID)
			if it.QuestionID != nil {
				line += fmt.Sprintf(" question %d", *it.QuestionID)
			}
			if it.Hidden {
				line += " (hidden)"
			}
			fmt.Fprintln(out, line)
		}
		return nil
	},
}

var moveCmd = &cobra.Command{
	Use:   "move",
	Short: "Move a form item under a new parent at a new rank",
	Long: `Moves an item (and its subtree) of a form. Siblings are re-ranked so every
sibling list keeps running 1..n; a move that would leave gaps or duplicate ranks
anywhere is rolled back.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()

		changed, err := fs.FormTree.Move(ctx, fs.Scope, itemForm, itemID, itemParent, itemRank)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, it := range changed {
			fmt.Fprintf(out, "item %d\tparent %d\trank %d\n", it.ID, it.ParentID(), it.Rank)
		}
		return nil
	},
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Check every form for rank gaps and duplicate ranks",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()

		report, err := fs.FormTree.Audit(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "rank gaps: %t\nduplicate ranks: %t\n", report.RankGaps, report.DuplicateRanks)
		if !report.OK() {
			return fmt.Errorf("rank integrity check failed")
		}
		return nil
	},
}

func init() {
	itemAddCmd.Flags().IntVar(&itemForm, "form", 0, "Form id (required)")
	itemAddCmd.Flags().IntVar(&itemParent, "parent", 0, "Parent group id (0 = top level)")
	itemAddCmd.Flags().BoolVar(&itemGroup, "group", false, "Add a group instead of a question")
	itemAddCmd.Flags().IntVar(&itemQuestion, "question", 0, "Question id of the new questioning")
	itemAddCmd.Flags().BoolVar(&itemHidden, "hidden", false, "Never show the item")
	itemAddCmd.MarkFlagRequired("form")

	itemTreeCmd.Flags().IntVar(&itemForm, "form", 0, "Form id (required)")
	itemTreeCmd.MarkFlagRequired("form")

	moveCmd.Flags().IntVar(&itemForm, "form", 0, "Form id (required)")
	moveCmd.Flags().IntVar(&itemID, "item", 0, "Item id (required)")
	moveCmd.Flags().IntVar(&itemParent, "parent", 0, "New parent group id (0 = top level)")
	moveCmd.Flags().IntVar(&itemRank, "rank", 0, "New 1-based rank (required)")
	moveCmd.MarkFlagRequired("form")
	moveCmd.MarkFlagRequired("item")
	moveCmd.MarkFlagRequired("rank")
}
