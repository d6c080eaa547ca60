package app

import (
	"fmt"

	"github.com/dokzlo13/huelink/internal/binding"
	"github.com/dokzlo13/huelink/internal/config"
	"github.com/dokzlo13/huelink/internal/item"
	"github.com/dokzlo13/huelink/internal/translate"
)

// declareItems declares every configured item and registers the bound ones.
func declareItems(items []config.ItemConfig, registry *item.Registry, table *binding.Table) error {
	for _, ic := range items {
		v, err := registry.Declare(ic.Name, item.Options{
			EnforceUpdates: ic.EnforceUpdates,
			Initial:        ic.Initial,
		})
		if err != nil {
			return err
		}
		if !ic.Bound() {
			continue
		}

		key, err := ic.Key()
		if err != nil {
			return fmt.Errorf("item %q: %w", ic.Name, err)
		}

		b := binding.Binding{Item: v, Key: key}
		if ic.TransitionTime != nil {
			d := translate.TransitionFromSeconds(*ic.TransitionTime)
			b.TransitionTime = &d
		}
		if err := table.Register(b); err != nil {
			return err
		}
	}
	return nil
}
