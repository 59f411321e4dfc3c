package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go-dataset-pipeline/internal/app"
	"go-dataset-pipeline/internal/model"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func newLoadCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	var id, title, owner string
	var replace bool
	cmd := &cobra.Command{
		Use:   "load <file>",
		Short: "Register a tabular file as a new dataset.",
		Long: `load copies a CSV (or compatible) file into the data directory and
creates a dataset with status loaded. The workers take it from there.
With --replace the file becomes the new data of the existing dataset --id,
which is processed again from the start.
The id of the dataset is printed on stdout.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if replace && id == "" {
				return errors.New("--replace needs the --id of the dataset")
			}
			var o model.Owner
			if !replace {
				if owner == "" {
					return errors.New("--owner is required")
				}
				var err error
				if o, err = parseOwner(owner); err != nil {
					return err
				}
			}
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer closeApp(a)

			var d *model.Dataset
			if replace {
				d, err = replaceFile(cmd, a, args[0], id)
			} else {
				d, err = loadFile(cmd, a, args[0], id, title, o)
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), d.ID)
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&id, "id", "", "Dataset id, a random one when empty.")
	flags.StringVar(&title, "title", "", "Dataset title, the file name when empty.")
	flags.StringVar(&owner, "owner", "", "Owner as type:id, e.g. user:alice.")
	flags.BoolVar(&replace, "replace", false, "Replace the data file of the existing dataset --id.")
	return cmd
}

func parseOwner(s string) (model.Owner, error) {
	typ, id, ok := strings.Cut(s, ":")
	t := model.OwnerType(typ)
	if !ok || id == "" || (t != model.OwnerUser && t != model.OwnerOrganization) {
		return model.Owner{}, errors.Errorf("invalid owner %q, expected user:<id> or organization:<id>", s)
	}
	return model.Owner{Type: t, ID: id}, nil
}

// openSource opens a regular file to be copied into the data directory.
func openSource(src string) (*os.File, error) {
	in, err := os.Open(src)
	if err != nil {
		return nil, errors.Wrap(err, "opening source file")
	}
	info, err := in.Stat()
	if err != nil {
		in.Close()
		return nil, errors.Wrap(err, "reading source file")
	}
	if info.IsDir() {
		in.Close()
		return nil, errors.Errorf("%s is a directory", src)
	}
	return in, nil
}

func loadFile(cmd *cobra.Command, a *app.App, src, id, title string, owner model.Owner) (*model.Dataset, error) {
	in, err := openSource(src)
	if err != nil {
		return nil, err
	}
	defer in.Close()

	if id == "" {
		id = uuid.New().String()
	}
	name := filepath.Base(src)
	if title == "" {
		title = strings.TrimSuffix(name, filepath.Ext(name))
	}
	ctx := contextOf(cmd)
	if _, err := a.Store.GetDataset(ctx, id); err == nil {
		return nil, errors.Wrapf(model.ErrConflict, "dataset %s already exists", id)
	} else if !errors.Is(err, model.ErrNotFound) {
		return nil, err
	}

	d := &model.Dataset{
		ID:     id,
		Title:  title,
		Owner:  owner,
		Status: model.StatusLoaded,
	}
	if d.File, err = a.Layout.WriteOriginal(d, name, in); err != nil {
		return nil, err
	}
	if err := a.Store.InsertDataset(ctx, d); err != nil {
		return nil, err
	}
	emit(cmd, a, d.ID, model.EventDatasetCreated)
	a.Logger.Info("dataset loaded", "dataset", d.ID, "file", name, "size", d.File.Size)
	return d, nil
}

// replaceFile swaps the data file of the dataset id and re-arms its
// processing.
func replaceFile(cmd *cobra.Command, a *app.App, src, id string) (*model.Dataset, error) {
	in, err := openSource(src)
	if err != nil {
		return nil, err
	}
	defer in.Close()

	ctx := contextOf(cmd)
	d, err := a.Store.GetDataset(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := d.CheckReplaceable(); err != nil {
		return nil, err
	}
	file, err := a.Layout.WriteOriginal(d, filepath.Base(src), in)
	if err != nil {
		return nil, err
	}
	if d, err = a.Store.PatchDataset(ctx, id, model.ReplaceFilePatch(file, time.Now(), "cli")); err != nil {
		return nil, err
	}
	emit(cmd, a, d.ID, model.EventDataUpdated)
	a.Logger.Info("dataset data replaced", "dataset", d.ID, "file", file.Name, "size", file.Size)
	return d, nil
}

func emit(cmd *cobra.Command, a *app.App, datasetID, typ string) {
	ev := model.Event{DatasetID: datasetID, Type: typ, Date: time.Now()}
	if err := a.Emitter.Emit(contextOf(cmd), ev); err != nil {
		a.Logger.Warn("failed to emit event", "dataset", datasetID, "type", typ, "error", err)
	}
}
