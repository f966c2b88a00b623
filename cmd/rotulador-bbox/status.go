package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lewtec/rotulador-bbox/annotation"
	"github.com/lewtec/rotulador-bbox/internal/domain"
	"github.com/lewtec/rotulador-bbox/internal/repository"
)

func PrintQuery(ctx context.Context, w io.Writer, db *sql.Tx, query string, args ...any) error {
	stmt, err := db.PrepareContext(ctx, query)
	if err != nil {
		return err
	}
	defer stmt.Close()
	result, err := stmt.QueryContext(ctx, args...)
	if err != nil {
		return err
	}
	defer result.Close()
	columns, err := result.Columns()
	if err != nil {
		return err
	}
	if len(columns) > 1 {
		fmt.Fprintln(w, strings.Join(columns, "\t"))
	}
	pointers := make([]any, len(columns))
	container := make([]sql.NullString, len(columns))
	for i := range columns {
		pointers[i] = &container[i]
	}
	values := make([]string, len(columns))
	for result.Next() {
		if err := result.Scan(pointers...); err != nil {
			return err
		}
		for i, v := range container {
			values[i] = v.String
		}
		fmt.Fprintln(w, strings.Join(values, "\t"))
	}
	return result.Err()
}

const imagesQuery = `
select i.image_id, i.filename, i.review_status, coalesce(i.reviewer_id, ''),
	(select count(*) from boxes b where b.image_id = i.image_id and b.kind = 'working' and b.tombstoned = 0) as boxes
from images i`

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status [image_id]",
	Short: "Shows the review progress of the saved session",
	Long: `Prints review counters of the saved session.

With --images every image is listed with its review status and active box
count. An image id restricts the listing to that image.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		listImages, err := cmd.Flags().GetBool("images")
		if err != nil {
			return err
		}
		status, _ := cmd.Flags().GetString("status")
		config, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		db, err := annotation.GetDatabase(config.Session.Database)
		if err != nil {
			return err
		}
		defer db.Close()

		stats, err := repository.NewSessionRepository(db).Stats(cmd.Context())
		if err != nil {
			return err
		}
		if !listImages && len(args) == 0 && status == "" {
			fmt.Fprintf(out, "images\t%d\n", stats.Images)
			fmt.Fprintf(out, "%s\t%d\n", domain.Unreviewed, stats.Unreviewed)
			fmt.Fprintf(out, "%s\t%d\n", domain.MarkedCorrect, stats.MarkedCorrect)
			fmt.Fprintf(out, "%s\t%d\n", domain.Accepted, stats.Accepted)
			fmt.Fprintf(out, "boxes\t%d\n", stats.ActiveBoxes)
			return nil
		}

		tx, err := db.BeginTx(cmd.Context(), nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		query := imagesQuery
		queryArgs := []any{}
		var where []string
		if len(args) == 1 {
			where = append(where, "(i.image_id = ? or i.filename = ?)")
			queryArgs = append(queryArgs, args[0], args[0])
		}
		if status != "" {
			parsed, err := domain.ParseReviewStatus(status)
			if err != nil {
				return err
			}
			where = append(where, "i.review_status = ?")
			queryArgs = append(queryArgs, parsed.String())
		}
		if len(where) > 0 {
			query += " where " + strings.Join(where, " and ")
		}
		query += " order by i.image_id"
		return PrintQuery(cmd.Context(), out, tx, query, queryArgs...)
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().BoolP("images", "i", false, "List every image instead of the counters")
	statusCmd.Flags().StringP("status", "s", "", "Only list images with this review status")
}
