package services

import (
	"context"

	"go.uber.org/zap"

	"github.com/paulexconde/fieldsurvey/internal/models"
	"github.com/paulexconde/fieldsurvey/pkg/store"
)

// Address answers longer than this are cut before becoming a place name.
const MaxPlaceNameLength = 255

// PlaceResolver attaches a Place to a response being saved.
type PlaceResolver struct {
	places store.PlaceStore
	logger *zap.Logger
}

func NewPlaceResolver(places store.PlaceStore, logger *zap.Logger) *PlaceResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PlaceResolver{places: places, logger: logger}
}

// placeBits are the place-bearing answer values found on a response.
type placeBits struct {
	coordsSeen bool
	hasCoords  bool
	lat, lng   float64

	nameSeen bool
	name     string

	changed bool
}

// Resolve runs on save. A place picked with the lookup tool is kept and made
// permanent. Otherwise the first location and first address answers decide
// the place, but only when one of them changed since it was last stored.
func (r *PlaceResolver) Resolve(ctx context.Context, resp *models.Response) error {
	if resp.PlaceChanged {
		if resp.PlaceID == nil {
			return nil
		}
		return r.places.MarkPermanent(ctx, *resp.PlaceID)
	}

	bits := collectPlaceBits(resp.Answers)
	if !bits.changed {
		return nil
	}

	p := bits.place()
	if p == nil {
		resp.PlaceID = nil
		return nil
	}

	found, err := r.places.FindOrCreate(ctx, p)
	if err != nil {
		return err
	}

	r.logger.Debug("resolved place",
		zap.String("signature", found.Signature),
		zap.Int("place_id", found.ID),
		zap.Bool("temporary", found.Temporary))

	id := found.ID
	resp.PlaceID = &id
	return nil
}

func collectPlaceBits(answers []*models.Answer) placeBits {
	var bits placeBits
	for _, a := range answers {
		if a.Questioning == nil {
			continue
		}
		q := a.Questioning.Question

		switch {
		case !bits.coordsSeen && q.IsLocation():
			bits.coordsSeen = true
			if a.Value != "" {
				bits.lat, bits.lng, bits.hasCoords = parseCoordinates(a.Value)
			}
			if a.ValueChanged() {
				bits.changed = true
			}
		case !bits.nameSeen && q.IsAddress():
			bits.nameSeen = true
			bits.name = truncateRunes(a.Value, MaxPlaceNameLength)
			if a.ValueChanged() {
				bits.changed = true
			}
		}
	}
	return bits
}

// place builds the candidate place; coordinates take precedence over the name.
func (b placeBits) place() *models.Place {
	switch {
	case b.hasCoords:
		lat, lng := b.lat, b.lng
		p := &models.Place{
			Signature: models.CoordSignature(lat, lng),
			Latitude:  &lat,
			Longitude: &lng,
			FullName:  b.name,
			Temporary: true,
		}
		if p.FullName == "" {
			p.FullName = p.Signature[len("geo:"):]
		}
		return p
	case b.name != "":
		return &models.Place{
			Signature: models.NameSignature(b.name),
			FullName:  b.name,
			Temporary: true,
		}
	default:
		return nil
	}
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// PruneTemporaryPlaces deletes temporary places that no response uses anymore.
func (r *PlaceResolver) PruneTemporaryPlaces(ctx context.Context) (int64, error) {
	n, err := r.places.DeleteUnreferencedTemporary(ctx)
	if err != nil {
		return 0, err
	}
	r.logger.Info("pruned temporary places", zap.Int64("deleted", n))
	return n, nil
}
