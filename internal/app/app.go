// Package app assembles the fan-chat services from a set of stores and
// optional infrastructure.
package app

import (
	"time"

	"github.com/fanclub/backend/config"
	"github.com/fanclub/backend/internal/access"
	"github.com/fanclub/backend/internal/chat"
	"github.com/fanclub/backend/internal/moderation"
	"github.com/fanclub/backend/internal/notify"
	"github.com/fanclub/backend/internal/reports"
	"github.com/fanclub/backend/internal/storage"
	"github.com/fanclub/backend/internal/storage/memory"
)

type Stores struct {
	Chats    storage.ChatStore
	Messages storage.MessageStore
	Ledger   storage.LedgerStore
	Reports  storage.ReportStore
	Groups   storage.GroupStore
	Users    storage.UserStore
}

// MemoryStores backs every store with one in-process Store.
func MemoryStores(s *memory.Store) Stores {
	return Stores{Chats: s, Messages: s, Ledger: s, Reports: s, Groups: s, Users: s}
}

// Broker carries live chat events, including the all-chats feed the bot reads.
type Broker interface {
	chat.Broker
	moderation.EventSource
}

type Deps struct {
	Stores   Stores
	Broker   Broker
	Cache    moderation.RestrictionCache
	Notifier notify.Publisher
	Limiter  reports.Limiter
	Policy   config.ModerationPolicy
	Now      func() time.Time
}

type Services struct {
	Permissions *access.Permissions
	Policy      *access.Policy
	Engine      *moderation.Engine
	Ledger      *moderation.Ledger
	Directory   *chat.Directory
	Messages    *chat.Messages
	Reports     *reports.Queue
	Bot         *moderation.Bot
}

// New wires the services. A nil Broker or Cache falls back to the memory versions.
func New(d Deps) *Services {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Broker == nil {
		d.Broker = memory.NewBroker()
	}
	if d.Cache == nil {
		d.Cache = memory.NewRestrictionCache()
	}

	st := d.Stores
	perms := access.NewPermissions(st.Groups)
	engine := moderation.NewEngine(st.Ledger, d.Cache, d.Now)
	policy := access.NewPolicy(perms, engine, d.Now)

	ledger := moderation.NewLedger(moderation.LedgerDeps{
		Store:    st.Ledger,
		Chats:    st.Chats,
		Messages: st.Messages,
		Users:    st.Users,
		Perms:    perms,
		Engine:   engine,
		Policy:   d.Policy,
		Now:      d.Now,
	})
	dir := chat.NewDirectory(st.Chats, policy)
	msgs := chat.NewMessages(chat.MessagesDeps{
		Store:     st.Messages,
		Directory: dir,
		Ledger:    ledger,
		Broker:    d.Broker,
		Notifier:  d.Notifier,
		Policy:    d.Policy,
	})
	queue := reports.NewQueue(reports.Deps{
		Store:    st.Reports,
		Messages: st.Messages,
		Chats:    st.Chats,
		Policy:   policy,
		Limiter:  d.Limiter,
		Rules:    d.Policy,
	})

	return &Services{
		Permissions: perms,
		Policy:      policy,
		Engine:      engine,
		Ledger:      ledger,
		Directory:   dir,
		Messages:    msgs,
		Reports:     queue,
		Bot:         moderation.NewBot(d.Broker, st.Ledger, ledger, d.Policy, d.Now),
	}
}
