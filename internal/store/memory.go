package store

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tftstocks/market-engine/internal/ledger"
	"github.com/tftstocks/market-engine/internal/model"
	"github.com/tftstocks/market-engine/internal/player"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu sync.RWMutex

	players      map[string]*model.Player
	playerByName map[string]string
	samples      map[string][]model.PriceSample

	users        map[string]*model.User
	userByName   map[string]string
	portfolios   map[string]*model.Portfolio
	portfolioFor map[string]string // userID/leagueID -> portfolio ID

	holdings     map[string]map[string]model.Holding
	locks        map[string][]model.HoldLock
	transactions map[string][]model.Transaction
	valuations   map[string][]model.ValuationPoint

	// Per-portfolio commit locks. Entries are never removed.
	txLocks sync.Map
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		players:      make(map[string]*model.Player),
		playerByName: make(map[string]string),
		samples:      make(map[string][]model.PriceSample),
		users:        make(map[string]*model.User),
		userByName:   make(map[string]string),
		portfolios:   make(map[string]*model.Portfolio),
		portfolioFor: make(map[string]string),
		holdings:     make(map[string]map[string]model.Holding),
		locks:        make(map[string][]model.HoldLock),
		transactions: make(map[string][]model.Transaction),
		valuations:   make(map[string][]model.ValuationPoint),
	}
}

func nameKey(gameName, tagLine string) string {
	return player.Ref{GameName: gameName, TagLine: tagLine}.Key()
}

func memberKey(userID, leagueID string) string {
	return userID + "/" + leagueID
}

// --- Players and price samples ---

func (s *MemoryStore) UpsertPlayer(_ context.Context, p *model.Player) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := nameKey(p.GameName, p.TagLine)
	if id, ok := s.playerByName[key]; ok && id != p.ID {
		return fmt.Errorf("player %s: %w", key, ErrDuplicate)
	}

	// Store a copy to avoid external mutation.
	copy := *p
	if existing, ok := s.players[p.ID]; ok && existing.DelistedAt != nil {
		copy.DelistedAt = existing.DelistedAt
	}
	s.players[p.ID] = &copy
	s.playerByName[key] = p.ID
	return nil
}

func (s *MemoryStore) GetPlayer(_ context.Context, id string) (*model.Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.players[id]
	if !ok {
		return nil, fmt.Errorf("player %s: %w", id, ErrNotFound)
	}
	copy := *p
	return &copy, nil
}

func (s *MemoryStore) GetPlayerByName(ctx context.Context, gameName, tagLine string) (*model.Player, error) {
	s.mu.RLock()
	id, ok := s.playerByName[nameKey(gameName, tagLine)]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("player %s#%s: %w", gameName, tagLine, ErrNotFound)
	}
	return s.GetPlayer(ctx, id)
}

func (s *MemoryStore) ListPlayers(_ context.Context) ([]model.Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	players := make([]model.Player, 0, len(s.players))
	for _, p := range s.players {
		players = append(players, *p)
	}
	sort.Slice(players, func(i, j int) bool { return players[i].ID < players[j].ID })
	return players, nil
}

func (s *MemoryStore) AppendPriceSample(_ context.Context, sample model.PriceSample) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if math.IsNaN(sample.Metric) || math.IsInf(sample.Metric, 0) {
		return fmt.Errorf("sample for %s metric %v: %w", sample.PlayerID, sample.Metric, ErrInvalidSample)
	}
	if _, ok := s.players[sample.PlayerID]; !ok {
		return fmt.Errorf("player %s: %w", sample.PlayerID, ErrNotFound)
	}

	// Keep each series sorted by timestamp; late samples are inserted in place.
	series := s.samples[sample.PlayerID]
	i := sort.Search(len(series), func(i int) bool { return !series[i].Timestamp.Before(sample.Timestamp) })
	if i < len(series) && series[i].Timestamp.Equal(sample.Timestamp) {
		series[i] = sample
		return nil
	}
	series = append(series, model.PriceSample{})
	copy(series[i+1:], series[i:])
	series[i] = sample
	s.samples[sample.PlayerID] = series
	return nil
}

func (s *MemoryStore) LatestPriceSample(_ context.Context, playerID string) (*model.PriceSample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	series := s.samples[playerID]
	if len(series) == 0 {
		return nil, fmt.Errorf("price sample for %s: %w", playerID, ErrNotFound)
	}
	latest := series[len(series)-1]
	return &latest, nil
}

func (s *MemoryStore) LatestPriceSamples(_ context.Context) (map[string]model.PriceSample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]model.PriceSample, len(s.samples))
	for id, series := range s.samples {
		if len(series) > 0 {
			out[id] = series[len(series)-1]
		}
	}
	return out, nil
}

func (s *MemoryStore) PriceHistory(_ context.Context, playerID string, since time.Time) ([]model.PriceSample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.PriceSample
	for _, sample := range s.samples[playerID] {
		if !sample.Timestamp.Before(since) {
			result = append(result, sample)
		}
	}
	return result, nil
}

// --- Users and portfolios ---

func (s *MemoryStore) CreateUser(_ context.Context, u *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[u.ID]; ok {
		return fmt.Errorf("user %s: %w", u.ID, ErrDuplicate)
	}
	if _, ok := s.userByName[u.Username]; ok {
		return fmt.Errorf("username %s: %w", u.Username, ErrDuplicate)
	}
	copy := *u
	s.users[u.ID] = &copy
	s.userByName[u.Username] = u.ID
	return nil
}

func (s *MemoryStore) GetUser(_ context.Context, id string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	copy := *u
	return &copy, nil
}

func (s *MemoryStore) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	s.mu.RLock()
	id, ok := s.userByName[username]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("user %s: %w", username, ErrNotFound)
	}
	return s.GetUser(ctx, id)
}

func (s *MemoryStore) CreatePortfolio(_ context.Context, p *model.Portfolio) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := memberKey(p.UserID, p.LeagueID)
	if _, ok := s.portfolioFor[key]; ok {
		return fmt.Errorf("portfolio for %s: %w", key, ErrDuplicate)
	}
	copy := *p
	s.portfolios[p.ID] = &copy
	s.portfolioFor[key] = p.ID
	return nil
}

func (s *MemoryStore) OpenPortfolio(_ context.Context, p *model.Portfolio, opening model.ValuationPoint) error {
	if opening.PortfolioID != p.ID {
		return fmt.Errorf("opening point belongs to portfolio %q, not %q", opening.PortfolioID, p.ID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := memberKey(p.UserID, p.LeagueID)
	if _, ok := s.portfolioFor[key]; ok {
		return fmt.Errorf("portfolio for %s: %w", key, ErrDuplicate)
	}
	copy := *p
	s.portfolios[p.ID] = &copy
	s.portfolioFor[key] = p.ID
	s.valuations[p.ID] = append(s.valuations[p.ID], opening)
	return nil
}

func (s *MemoryStore) GetPortfolio(_ context.Context, id string) (*model.Portfolio, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.portfolios[id]
	if !ok {
		return nil, fmt.Errorf("portfolio %s: %w", id, ErrNotFound)
	}
	copy := *p
	return &copy, nil
}

func (s *MemoryStore) GetPortfolioByMember(ctx context.Context, userID, leagueID string) (*model.Portfolio, error) {
	s.mu.RLock()
	id, ok := s.portfolioFor[memberKey(userID, leagueID)]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("portfolio for %s in %s: %w", userID, leagueID, ErrNotFound)
	}
	return s.GetPortfolio(ctx, id)
}

func (s *MemoryStore) ListPortfolios(_ context.Context, leagueID string) ([]model.Portfolio, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Portfolio
	for _, p := range s.portfolios {
		if leagueID == "" || p.LeagueID == leagueID {
			result = append(result, *p)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *MemoryStore) SetPortfolioValue(_ context.Context, portfolioID string, value decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.portfolios[portfolioID]
	if !ok {
		return fmt.Errorf("portfolio %s: %w", portfolioID, ErrNotFound)
	}
	p.CurrentValue = value
	return nil
}

// --- Positions and history ---

// PortfolioPositions reads under one hold of the store lock, which commits
// also take, so a unit is either fully visible or not at all.
func (s *MemoryStore) PortfolioPositions(_ context.Context, portfolioID string) (*model.Portfolio, []model.Holding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.portfolios[portfolioID]
	if !ok {
		return nil, nil, fmt.Errorf("portfolio %s: %w", portfolioID, ErrNotFound)
	}
	portfolio := *p
	return &portfolio, s.holdingsLocked(portfolioID), nil
}

func (s *MemoryStore) ListHoldings(_ context.Context, portfolioID string) ([]model.Holding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.holdingsLocked(portfolioID), nil
}

// holdingsLocked requires s.mu to be held.
func (s *MemoryStore) holdingsLocked(portfolioID string) []model.Holding {
	result := make([]model.Holding, 0, len(s.holdings[portfolioID]))
	for _, h := range s.holdings[portfolioID] {
		result = append(result, h)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].PlayerID < result[j].PlayerID })
	return result
}

func (s *MemoryStore) ListHoldLocks(_ context.Context, portfolioID string, at time.Time) ([]model.HoldLock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return ledger.ActiveLocks(s.locks[portfolioID], at), nil
}

func (s *MemoryStore) ListTransactions(_ context.Context, portfolioID string) ([]model.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	txs := s.transactions[portfolioID]
	result := make([]model.Transaction, 0, len(txs))
	for i := len(txs) - 1; i >= 0; i-- {
		result = append(result, txs[i])
	}
	return result, nil
}

func (s *MemoryStore) AppendValuationPoint(_ context.Context, v model.ValuationPoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.portfolios[v.PortfolioID]; !ok {
		return fmt.Errorf("portfolio %s: %w", v.PortfolioID, ErrNotFound)
	}
	s.valuations[v.PortfolioID] = append(s.valuations[v.PortfolioID], v)
	return nil
}

func (s *MemoryStore) ValuationHistory(_ context.Context, portfolioID string) ([]model.ValuationPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]model.ValuationPoint, len(s.valuations[portfolioID]))
	copy(result, s.valuations[portfolioID])
	sort.SliceStable(result, func(i, j int) bool { return result[i].Timestamp.Before(result[j].Timestamp) })
	return result, nil
}

// --- Commit unit ---

func (s *MemoryStore) portfolioLock(id string) *sync.Mutex {
	m, _ := s.txLocks.LoadOrStore(id, &sync.Mutex{})
	return m.(*sync.Mutex)
}

// WithPortfolioTx serializes units per portfolio with a dedicated mutex.
// Writes are staged on the memTx and applied under the store lock only
// after fn succeeds.
func (s *MemoryStore) WithPortfolioTx(ctx context.Context, portfolioID string, fn func(tx PortfolioTx) error) error {
	lock := s.portfolioLock(portfolioID)
	lock.Lock()
	defer lock.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	p, err := s.GetPortfolio(ctx, portfolioID)
	if err != nil {
		return err
	}

	tx := &memTx{
		store:     s,
		portfolio: *p,
		holdings:  make(map[string]*model.Holding),
	}
	if err := fn(tx); err != nil {
		return err
	}

	tx.commit()
	return nil
}

type memTx struct {
	store     *MemoryStore
	portfolio model.Portfolio

	// Staged writes. A nil holding entry marks a delete.
	balanceSet bool
	holdings   map[string]*model.Holding
	locks      []model.HoldLock
	txs        []model.Transaction
}

func (t *memTx) Portfolio() model.Portfolio { return t.portfolio }

func (t *memTx) Holding(_ context.Context, playerID string) (*model.Holding, error) {
	if h, ok := t.holdings[playerID]; ok {
		if h == nil {
			return nil, nil
		}
		copy := *h
		return &copy, nil
	}

	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	h, ok := t.store.holdings[t.portfolio.ID][playerID]
	if !ok {
		return nil, nil
	}
	return &h, nil
}

func (t *memTx) LockedShares(_ context.Context, playerID string, at time.Time) (int64, error) {
	t.store.mu.RLock()
	n := ledger.LockedShares(t.store.locks[t.portfolio.ID], playerID, at)
	t.store.mu.RUnlock()
	return n + ledger.LockedShares(t.locks, playerID, at), nil
}

func (t *memTx) SetBalance(_ context.Context, balance decimal.Decimal) error {
	t.portfolio.Balance = balance
	t.balanceSet = true
	return nil
}

func (t *memTx) PutHolding(_ context.Context, h model.Holding) error {
	if h.Shares <= 0 {
		return fmt.Errorf("put holding %s with %d shares: %w", h.PlayerID, h.Shares, ledger.ErrInvalidQuantity)
	}
	t.holdings[h.PlayerID] = &h
	return nil
}

func (t *memTx) DeleteHolding(_ context.Context, playerID string) error {
	t.holdings[playerID] = nil
	return nil
}

func (t *memTx) InsertHoldLock(_ context.Context, l model.HoldLock) error {
	t.locks = append(t.locks, l)
	return nil
}

func (t *memTx) AppendTransaction(_ context.Context, tr model.Transaction) error {
	t.txs = append(t.txs, tr)
	return nil
}

func (t *memTx) commit() {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	id := t.portfolio.ID
	if t.balanceSet {
		s.portfolios[id].Balance = t.portfolio.Balance
	}

	if len(t.holdings) > 0 && s.holdings[id] == nil {
		s.holdings[id] = make(map[string]model.Holding)
	}
	for playerID, h := range t.holdings {
		if h == nil {
			delete(s.holdings[id], playerID)
			continue
		}
		s.holdings[id][playerID] = *h
	}

	s.locks[id] = append(s.locks[id], t.locks...)
	s.transactions[id] = append(s.transactions[id], t.txs...)
}
