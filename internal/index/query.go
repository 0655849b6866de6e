package index

import (
	"context"

	"github.com/kamusis/regindex/internal/ctxlog"
	"github.com/kamusis/regindex/internal/indexerr"
	"github.com/kamusis/regindex/internal/record"
	"github.com/kamusis/regindex/internal/validate"
)

func parseFilter(req string) (*record.Req, error) {
	if req == "" {
		return nil, nil
	}
	r, err := record.ParseReq(req)
	if err != nil {
		return nil, indexerr.Wrap(indexerr.InvalidManifest, err, "invalid version requirement %q", req).WithField("version")
	}
	return r, nil
}

// List returns the records of name that satisfy req (all when req is
// empty), in publication order. An absent package, or one with nothing
// matching, yields an empty slice.
func List(ctx context.Context, root *Root, name, req string) ([]record.Record, error) {
	filter, err := parseFilter(req)
	if err != nil {
		return nil, err
	}
	all, err := root.store.Read(name)
	if err != nil {
		return nil, err
	}
	out := make([]record.Record, 0, len(all))
	for _, r := range all {
		if filter == nil || filter.Matches(r.Vers) {
			out = append(out, r)
		}
	}
	ctxlog.FromContext(ctx).Debug("listed package", "package", name, "matched", len(out), "total", len(all))
	return out, nil
}

// ListAll calls fn for every record in the index that satisfies req, file
// by file in path order.
func ListAll(ctx context.Context, root *Root, req string, fn func(record.Record) error) error {
	filter, err := parseFilter(req)
	if err != nil {
		return err
	}
	return root.store.Walk(func(rel string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		f, err := root.store.ReadPath(rel)
		if err != nil {
			return err
		}
		for _, l := range f.Lines {
			if filter != nil && !filter.Matches(l.Record.Vers) {
				continue
			}
			if err := fn(l.Record); err != nil {
				return err
			}
		}
		return nil
	})
}

// Yank marks one version as yanked. Yanking a yanked version is
// AlreadyYanked.
func Yank(ctx context.Context, root *Root, name, version string) error {
	return setYank(ctx, root, name, version, true)
}

// Unyank clears the yanked flag. Unyanking a live version is NotYanked.
func Unyank(ctx context.Context, root *Root, name, version string) error {
	return setYank(ctx, root, name, version, false)
}

func setYank(ctx context.Context, root *Root, name, version string, yanked bool) error {
	if _, err := root.Config(); err != nil {
		return err
	}
	changed, err := root.store.SetYank(name, version, yanked)
	if err != nil {
		return err
	}
	if !changed {
		if yanked {
			return indexerr.New(indexerr.AlreadyYanked, "`%s:%s` is already yanked!", name, version).WithPackage(name, version)
		}
		return indexerr.New(indexerr.NotYanked, "`%s:%s` is not yanked!", name, version).WithPackage(name, version)
	}
	ctxlog.FromContext(ctx).Info("set yanked", "package", name, "version", version, "yanked", yanked)
	return nil
}

// ValidateOptions tune Validate.
type ValidateOptions = validate.Options

// Validate checks the whole index. It only reads.
func Validate(ctx context.Context, root *Root, opts ValidateOptions) ([]validate.Violation, error) {
	return validate.Run(ctx, root.fs, opts)
}
