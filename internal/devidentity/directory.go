package devidentity

import (
	"errors"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/tabconsole/internal/domain"
	"golang.org/x/crypto/bcrypt"
)

var (
	errInvalidCredentials = errors.New("Invalid email or password")
	errAccountSuspended   = errors.New("Account suspended")
)

type account struct {
	user         domain.User
	passwordHash []byte
}

// Directory is the in-memory user store of the dev service.
type Directory struct {
	clock clockwork.Clock
	cost  int

	mu       sync.RWMutex
	accounts map[string]*account
	nextID   int
}

func NewDirectory(clock clockwork.Clock, cost int) *Directory {
	return &Directory{
		clock:    clock,
		cost:     cost,
		accounts: make(map[string]*account),
		nextID:   1,
	}
}

// Seed adds the default accounts. Every password is "1".
func (d *Directory) Seed() error {
	seeds := []struct {
		name, email string
		role        domain.Role
		suspended   bool
	}{
		{"Admin", "admin@example.com", domain.RoleAdmin, false},
		{"John Doe", "john@example.com", domain.RoleBasic, false},
		{"Sam Suspended", "sam@example.com", domain.RoleBasic, true},
	}
	for _, s := range seeds {
		user, err := d.Add(s.name, s.email, "1", s.role)
		if err != nil {
			return err
		}
		if s.suspended {
			if _, err := d.SetSuspended(user.ID, true); err != nil {
				return err
			}
		}
	}
	return nil
}

func (d *Directory) Add(name, email, password string, role domain.Role) (domain.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), d.cost)
	if err != nil {
		return domain.User{}, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	id := strconv.Itoa(d.nextID)
	d.nextID++
	d.accounts[id] = &account{
		user:         domain.User{ID: id, Name: name, Email: strings.ToLower(email), Role: role},
		passwordHash: hash,
	}
	return d.accounts[id].user, nil
}

// Authenticate checks email and password. Suspended accounts cannot sign in.
func (d *Directory) Authenticate(email, password string) (domain.User, error) {
	d.mu.RLock()
	var found *account
	for _, a := range d.accounts {
		if a.user.Email == strings.ToLower(email) {
			found = a
			break
		}
	}
	d.mu.RUnlock()

	if found == nil {
		return domain.User{}, errInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(found.passwordHash, []byte(password)); err != nil {
		return domain.User{}, errInvalidCredentials
	}
	if found.user.IsSuspended() {
		return domain.User{}, errAccountSuspended
	}
	return found.user, nil
}

func (d *Directory) Get(id string) (domain.User, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	a, ok := d.accounts[id]
	if !ok {
		return domain.User{}, false
	}
	return a.user, true
}

// List returns every user ordered by id.
func (d *Directory) List() []domain.User {
	d.mu.RLock()
	users := make([]domain.User, 0, len(d.accounts))
	for _, a := range d.accounts {
		users = append(users, a.user)
	}
	d.mu.RUnlock()

	slices.SortFunc(users, func(a, b domain.User) int {
		x, _ := strconv.Atoi(a.ID)
		y, _ := strconv.Atoi(b.ID)
		return x - y
	})
	return users
}

func (d *Directory) SetSuspended(id string, suspended bool) (domain.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	a, ok := d.accounts[id]
	if !ok {
		return domain.User{}, domain.ErrUserNotFound
	}
	if suspended {
		now := d.clock.Now().UTC()
		a.user.SuspendedAt = &now
	} else {
		a.user.SuspendedAt = nil
	}
	return a.user, nil
}
