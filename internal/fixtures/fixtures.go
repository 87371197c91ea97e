// Package fixtures provisions the minimal CATMAID records the login/logout
// flow needs and removes exactly the ones a run created.
package fixtures

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/kuitang/catmaid-guitest/internal/auth"
	"github.com/kuitang/catmaid-guitest/internal/db"
	"github.com/kuitang/catmaid-guitest/internal/obs"
)

const (
	AnonymousUsername = "AnonymousUser"
	AnonymousEmail    = "anon@my.mail"

	TestUsername = "test"
	TestEmail    = "test@my.mail"
	TestPassword = "test"

	ProjectListCodeType = "project_list_data_view"
	ProjectListTitle    = "Project list"
)

// Kind names the table a record lives in.
type Kind string

const (
	KindUser         Kind = "user"
	KindUserProfile  Kind = "user_profile"
	KindDataViewType Kind = "data_view_type"
	KindDataView     Kind = "data_view"
)

// Record identifies one row inserted by Create.
type Record struct {
	Kind Kind   `json:"kind"`
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Set lists the records a run created, in creation order.
type Set struct {
	Created []Record `json:"created"`

	mu      sync.Mutex
	removed bool
}

// Store is the persistence surface fixtures need.
type Store interface {
	GetOrCreateUser(ctx context.Context, username, email string) (*db.User, bool, error)
	SetPassword(ctx context.Context, userID int64, encoded string) error
	GetOrCreateUserProfile(ctx context.Context, userID int64) (*db.UserProfile, bool, error)
	GetOrCreateDataViewType(ctx context.Context, codeType, title string) (*db.DataViewType, bool, error)
	GetOrCreateDataView(ctx context.Context, title string, typeID int64, isDefault bool) (*db.DataView, bool, error)
	DeleteUser(ctx context.Context, id int64) (bool, error)
	DeleteUserProfile(ctx context.Context, id int64) (bool, error)
	DeleteDataViewType(ctx context.Context, id int64) (bool, error)
	DeleteDataView(ctx context.Context, id int64) (bool, error)
}

func (s *Set) track(kind Kind, id int64, name string, created bool) {
	if created {
		s.Created = append(s.Created, Record{Kind: kind, ID: id, Name: name})
	}
}

// Create provisions the anonymous user, the test user, a profile for each of
// them, the project list data view type and its default data view. Existing
// records are reused and not tracked. The test user's password is reset to
// "test" either way.
//
// On error the returned Set still lists what was created so far.
func Create(ctx context.Context, store Store, hasher auth.PasswordHasher) (*Set, error) {
	logger := obs.PkgFrom(ctx, "fixtures")
	set := &Set{}

	if _, err := ensureUser(ctx, store, set, AnonymousUsername, AnonymousEmail); err != nil {
		return set, fmt.Errorf("anonymous user: %w", err)
	}
	user, err := ensureUser(ctx, store, set, TestUsername, TestEmail)
	if err != nil {
		return set, fmt.Errorf("test user: %w", err)
	}

	encoded, err := hasher.HashPassword(TestPassword)
	if err != nil {
		return set, fmt.Errorf("hash test password: %w", err)
	}
	if err := store.SetPassword(ctx, user.ID, encoded); err != nil {
		return set, fmt.Errorf("test user: %w", err)
	}

	dvt, created, err := store.GetOrCreateDataViewType(ctx, ProjectListCodeType, ProjectListTitle)
	if err != nil {
		return set, fmt.Errorf("data view type: %w", err)
	}
	set.track(KindDataViewType, dvt.ID, ProjectListCodeType, created)

	dv, created, err := store.GetOrCreateDataView(ctx, ProjectListTitle, dvt.ID, true)
	if err != nil {
		return set, fmt.Errorf("data view: %w", err)
	}
	set.track(KindDataView, dv.ID, ProjectListTitle, created)

	logger.Info("fixtures ready", "created", len(set.Created))
	return set, nil
}

// ensureUser gets or creates a user and its profile, tracking whichever of
// the two it inserted.
func ensureUser(ctx context.Context, store Store, set *Set, username, email string) (*db.User, error) {
	user, created, err := store.GetOrCreateUser(ctx, username, email)
	if err != nil {
		return nil, err
	}
	set.track(KindUser, user.ID, username, created)

	profile, created, err := store.GetOrCreateUserProfile(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	set.track(KindUserProfile, profile.ID, username, created)
	return user, nil
}

// Remove deletes the records in set, newest first so the data view goes
// before its type and each profile before its user. Records already gone are
// skipped. Calling Remove again on the same Set does nothing.
func Remove(ctx context.Context, store Store, set *Set) error {
	if set == nil {
		return nil
	}
	set.mu.Lock()
	defer set.mu.Unlock()
	if set.removed {
		return nil
	}

	logger := obs.PkgFrom(ctx, "fixtures")
	for i := len(set.Created) - 1; i >= 0; i-- {
		rec := set.Created[i]
		var (
			deleted bool
			err     error
		)
		switch rec.Kind {
		case KindUser:
			deleted, err = store.DeleteUser(ctx, rec.ID)
		case KindUserProfile:
			deleted, err = store.DeleteUserProfile(ctx, rec.ID)
		case KindDataViewType:
			deleted, err = store.DeleteDataViewType(ctx, rec.ID)
		case KindDataView:
			deleted, err = store.DeleteDataView(ctx, rec.ID)
		default:
			err = fmt.Errorf("unknown record kind %q", rec.Kind)
		}
		if err != nil {
			// Keep the remaining records so a retry can finish the job.
			set.Created = set.Created[:i+1]
			return fmt.Errorf("remove %s %d: %w", rec.Kind, rec.ID, err)
		}
		if !deleted {
			logger.Warn("fixture already gone", "kind", rec.Kind, "id", rec.ID)
		}
	}
	set.Created = nil
	set.removed = true
	logger.Info("fixtures removed")
	return nil
}

// Save writes set as JSON.
func (s *Set) Save(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}

// Load reads a Set written by Save.
func Load(r io.Reader) (*Set, error) {
	var set Set
	if err := json.NewDecoder(r).Decode(&set); err != nil {
		return nil, fmt.Errorf("decode fixture set: %w", err)
	}
	return &set, nil
}
