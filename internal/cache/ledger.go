package cache

import (
	"context"
	"math/big"
	"strconv"
	"sync"
	"time"

	"github.com/blues/cfe/internal/escrow"
	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/singleflight"
)

const listKey = "list"

type entry struct {
	campaign *escrow.Campaign
	expires  time.Time
}

// Ledger 读穿缓存，读取在 TTL 内可能稍旧，写操作直接转发并在成功后失效对应条目
//
// 结算判断永远在底层账本内完成，缓存不参与。
type Ledger struct {
	inner escrow.Ledger
	ttl   time.Duration
	now   func() time.Time

	mu        sync.RWMutex
	campaigns map[int64]entry
	list      []*escrow.Campaign
	listUntil time.Time
	// 递增以丢弃失效前发起的加载结果
	gen uint64

	group singleflight.Group
}

var _ escrow.Ledger = (*Ledger)(nil)

// NewLedger ttl<=0 时不缓存
func NewLedger(inner escrow.Ledger, ttl time.Duration) *Ledger {
	return &Ledger{
		inner:     inner,
		ttl:       ttl,
		now:       time.Now,
		campaigns: make(map[int64]entry),
	}
}

func (l *Ledger) GetCampaign(ctx context.Context, campaignID int64) (*escrow.Campaign, error) {
	l.mu.RLock()
	e, ok := l.campaigns[campaignID]
	l.mu.RUnlock()
	if ok && l.now().Before(e.expires) {
		return e.campaign.Clone(), nil
	}

	v, err, _ := l.group.Do(strconv.FormatInt(campaignID, 10), func() (interface{}, error) {
		l.mu.RLock()
		gen := l.gen
		l.mu.RUnlock()

		c, err := l.inner.GetCampaign(ctx, campaignID)
		if err != nil {
			return nil, err
		}
		l.mu.Lock()
		if gen == l.gen && l.ttl > 0 {
			l.campaigns[campaignID] = entry{campaign: c.Clone(), expires: l.now().Add(l.ttl)}
		}
		l.mu.Unlock()
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*escrow.Campaign).Clone(), nil
}

func (l *Ledger) ListCampaigns(ctx context.Context) ([]*escrow.Campaign, error) {
	l.mu.RLock()
	list, until := l.list, l.listUntil
	l.mu.RUnlock()
	if list != nil && l.now().Before(until) {
		return cloneAll(list), nil
	}

	v, err, _ := l.group.Do(listKey, func() (interface{}, error) {
		l.mu.RLock()
		gen := l.gen
		l.mu.RUnlock()

		campaigns, err := l.inner.ListCampaigns(ctx)
		if err != nil {
			return nil, err
		}
		l.mu.Lock()
		if gen == l.gen && l.ttl > 0 {
			l.list = cloneAll(campaigns)
			l.listUntil = l.now().Add(l.ttl)
			expires := l.now().Add(l.ttl)
			for _, c := range campaigns {
				l.campaigns[c.ID] = entry{campaign: c.Clone(), expires: expires}
			}
		}
		l.mu.Unlock()
		return campaigns, nil
	})
	if err != nil {
		return nil, err
	}
	return cloneAll(v.([]*escrow.Campaign)), nil
}

func (l *Ledger) GetDonation(ctx context.Context, campaignID int64, donor common.Address) (*escrow.DonorPosition, error) {
	return l.inner.GetDonation(ctx, campaignID, donor)
}

func (l *Ledger) CreateCampaign(ctx context.Context, params escrow.CreateCampaignParams) (*escrow.Receipt, error) {
	r, err := l.inner.CreateCampaign(ctx, params)
	if err == nil {
		l.Invalidate(r.CampaignID)
	}
	return r, err
}

func (l *Ledger) Donate(ctx context.Context, campaignID int64, donor common.Address, amount *big.Int) (*escrow.Receipt, error) {
	return l.after(campaignID)(l.inner.Donate(ctx, campaignID, donor, amount))
}

func (l *Ledger) MarkFailed(ctx context.Context, campaignID int64, caller common.Address) (*escrow.Receipt, error) {
	return l.after(campaignID)(l.inner.MarkFailed(ctx, campaignID, caller))
}

func (l *Ledger) Withdraw(ctx context.Context, campaignID int64, caller common.Address) (*escrow.Receipt, error) {
	return l.after(campaignID)(l.inner.Withdraw(ctx, campaignID, caller))
}

func (l *Ledger) ClaimRefund(ctx context.Context, campaignID int64, donor common.Address) (*escrow.Receipt, error) {
	return l.after(campaignID)(l.inner.ClaimRefund(ctx, campaignID, donor))
}

func (l *Ledger) after(campaignID int64) func(*escrow.Receipt, error) (*escrow.Receipt, error) {
	return func(r *escrow.Receipt, err error) (*escrow.Receipt, error) {
		if err == nil {
			l.Invalidate(campaignID)
		}
		return r, err
	}
}

// Invalidate 丢弃活动条目与列表
func (l *Ledger) Invalidate(campaignID int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.gen++
	delete(l.campaigns, campaignID)
	l.list = nil
}

// InvalidateAll 清空缓存
func (l *Ledger) InvalidateAll() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.gen++
	l.campaigns = make(map[int64]entry)
	l.list = nil
}

// Warm 重新加载列表
func (l *Ledger) Warm(ctx context.Context) (int, error) {
	l.InvalidateAll()
	campaigns, err := l.ListCampaigns(ctx)
	if err != nil {
		return 0, err
	}
	return len(campaigns), nil
}

// Len 当前缓存的活动条目数
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.campaigns)
}

func cloneAll(in []*escrow.Campaign) []*escrow.Campaign {
	out := make([]*escrow.Campaign, len(in))
	for i, c := range in {
		out[i] = c.Clone()
	}
	return out
}
