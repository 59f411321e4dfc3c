package cli

import (
	"fmt"
	"io"
	"strings"

	"go-dataset-pipeline/internal/model"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func newVirtualCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	var title, owner string
	var children, fields, filters []string
	cmd := &cobra.Command{
		Use:   "virtual <id>",
		Short: "Create a virtual dataset over existing datasets.",
		Long: `virtual creates a dataset exposing the rows of its children. Each
--field is the key of a field present in the children; its type and
format are taken from them and must agree. --filter field=v1|v2
restricts the rows to those where field has one of the values.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := parseOwner(owner)
			if err != nil {
				return err
			}
			spec := model.VirtualSpec{Children: children}
			for _, f := range filters {
				field, values, ok := strings.Cut(f, "=")
				if !ok || field == "" || values == "" {
					return errors.Errorf("invalid filter %q, expected field=v1|v2", f)
				}
				spec.Filters = append(spec.Filters, model.Filter{Field: field, Values: strings.Split(values, "|")})
			}
			candidate := make([]model.Field, len(fields))
			for i, key := range fields {
				candidate[i] = model.Field{Key: key}
			}

			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer closeApp(a)

			ctx := contextOf(cmd)
			schema, err := a.Resolver.PrepareSchema(ctx, candidate, spec)
			if err != nil {
				return errors.Wrap(err, "preparing schema")
			}
			if title == "" {
				title = args[0]
			}
			d := &model.Dataset{
				ID:        args[0],
				Title:     title,
				Owner:     o,
				Schema:    schema,
				Status:    model.StatusIndexed,
				IsVirtual: true,
				Virtual:   &spec,
			}
			if err := a.Store.InsertDataset(ctx, d); err != nil {
				return err
			}
			emit(cmd, a, d.ID, model.EventDatasetCreated)
			fmt.Fprintln(cmd.OutOrStdout(), d.ID)
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&title, "title", "", "Dataset title, the id when empty.")
	flags.StringVar(&owner, "owner", "", "Owner as type:id.")
	flags.StringSliceVar(&children, "child", nil, "Id of a child dataset, repeatable.")
	flags.StringSliceVar(&fields, "field", nil, "Key of an exposed field, repeatable.")
	flags.StringArrayVar(&filters, "filter", nil, "Row filter as field=v1|v2, repeatable.")
	_ = cmd.MarkFlagRequired("owner")
	_ = cmd.MarkFlagRequired("child")
	return cmd
}
