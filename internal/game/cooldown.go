package game

type cooldownKind uint8

const (
	cooldownHit cooldownKind = iota
	cooldownGraze
)

type cooldownKey struct {
	bullet   uint64 // bullet or laser id; both come from the same counter
	receiver ReceiverID
	kind     cooldownKind
}

// HitCooldowns is the invulnerability bookkeeping keyed by
// (bullet id, receiver id). Indestructible bullets would otherwise damage
// the same receiver every tick they overlap it.
//
// Graze entries are refreshed every tick the bullet stays in the graze ring,
// so one pass through the ring counts as one graze.
type HitCooldowns struct {
	until map[cooldownKey]uint64 // last tick the entry suppresses
}

// NewHitCooldowns creates an empty table.
func NewHitCooldowns() *HitCooldowns {
	return &HitCooldowns{until: make(map[cooldownKey]uint64)}
}

// Blocked reports whether a hit from bullet on receiver is suppressed at tick.
func (c *HitCooldowns) Blocked(bullet uint64, receiver ReceiverID, tick uint64) bool {
	until, ok := c.until[cooldownKey{bullet, receiver, cooldownHit}]
	return ok && until >= tick
}

// Start suppresses further hits for ticks ticks after tick.
func (c *HitCooldowns) Start(bullet uint64, receiver ReceiverID, tick, ticks uint64) {
	c.until[cooldownKey{bullet, receiver, cooldownHit}] = tick + ticks
}

// Graze records a graze at tick and reports whether it is a new one.
func (c *HitCooldowns) Graze(bullet uint64, receiver ReceiverID, tick uint64) bool {
	k := cooldownKey{bullet, receiver, cooldownGraze}
	until, ok := c.until[k]
	c.until[k] = tick + 1
	return !ok || until < tick
}

// Prune drops entries that no longer suppress anything after tick.
func (c *HitCooldowns) Prune(tick uint64) int {
	n := 0
	for k, until := range c.until {
		if until <= tick {
			delete(c.until, k)
			n++
		}
	}
	return n
}

// Len returns the number of tracked entries.
func (c *HitCooldowns) Len() int { return len(c.until) }

// Reset drops everything.
func (c *HitCooldowns) Reset() { clear(c.until) }
