package signals

import (
	"fmt"

	"gorm.io/gorm"
)

// SenderResolver maps a statement's table to the sender its signals are
// keyed by. ok is false for tables nobody listens to.
type SenderResolver func(table string) (sender any, ok bool)

type callbackHook struct {
	kind    Kind
	created bool
}

// RegisterCallbacks bridges GORM create, update and delete callbacks to the
// dispatcher. A receiver error aborts the statement.
func RegisterCallbacks(db *gorm.DB, d *Dispatcher, resolve SenderResolver) error {
	cb := db.Callback()

	if err := cb.Create().Before("gorm:create").Register("signals:pre_save_create",
		dispatch(d, resolve, callbackHook{kind: PreSave, created: true})); err != nil {
		return fmt.Errorf("failed to register create pre_save: %w", err)
	}
	if err := cb.Create().After("gorm:create").Register("signals:post_save_create",
		dispatch(d, resolve, callbackHook{kind: PostSave, created: true})); err != nil {
		return fmt.Errorf("failed to register create post_save: %w", err)
	}
	if err := cb.Update().Before("gorm:update").Register("signals:pre_save_update",
		dispatch(d, resolve, callbackHook{kind: PreSave})); err != nil {
		return fmt.Errorf("failed to register update pre_save: %w", err)
	}
	if err := cb.Update().After("gorm:update").Register("signals:post_save_update",
		dispatch(d, resolve, callbackHook{kind: PostSave})); err != nil {
		return fmt.Errorf("failed to register update post_save: %w", err)
	}
	if err := cb.Delete().Before("gorm:delete").Register("signals:pre_delete",
		dispatch(d, resolve, callbackHook{kind: PreDelete})); err != nil {
		return fmt.Errorf("failed to register pre_delete: %w", err)
	}
	if err := cb.Delete().After("gorm:delete").Register("signals:post_delete",
		dispatch(d, resolve, callbackHook{kind: PostDelete})); err != nil {
		return fmt.Errorf("failed to register post_delete: %w", err)
	}
	return nil
}

func dispatch(d *Dispatcher, resolve SenderResolver, hook callbackHook) func(*gorm.DB) {
	return func(tx *gorm.DB) {
		if tx.Error != nil {
			return
		}

		table := tx.Statement.Table
		if table == "" && tx.Statement.Schema != nil {
			table = tx.Statement.Schema.Table
		}
		sender, ok := resolve(table)
		if !ok {
			return
		}

		instance := tx.Statement.Dest
		if instance == nil {
			instance = tx.Statement.Model
		}

		event := Event{
			Kind:     hook.kind,
			Sender:   sender,
			Instance: instance,
			Created:  hook.created,
		}
		if err := d.Send(tx.Statement.Context, event); err != nil {
			tx.AddError(err)
		}
	}
}
