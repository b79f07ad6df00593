package premium

import (
	"io"
	"math"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/looptrader/riskengine/internal/models"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestInitialPremium(t *testing.T) {
	a := NewAccountant(quietLogger())

	tests := []struct {
		name     string
		position models.Position
		want     float64
	}{
		{
			name: "single contract credit",
			position: models.Position{ID: 1, Orders: []models.Order{{
				Status: models.OrderStatusFilled, IsOpenPosition: true,
				Price: 2.85, Quantity: 1, FilledQuantity: 1,
			}}},
			want: 285,
		},
		{
			name: "two contract debit keeps negative sign",
			position: models.Position{ID: 2, Orders: []models.Order{{
				Status: models.OrderStatusFilled, IsOpenPosition: true,
				Price: -7.00, Quantity: 2, FilledQuantity: 2,
			}}},
			want: -1400,
		},
		{
			name: "falls back to requested quantity when fill unreported",
			position: models.Position{ID: 3, Orders: []models.Order{{
				Status: models.OrderStatusFilled, IsOpenPosition: true,
				Price: 1.50, Quantity: 3,
			}}},
			want: 450,
		},
		{
			name:     "no filled opening order",
			position: models.Position{ID: 4, Orders: []models.Order{{Status: models.OrderStatusWorking, Price: 2, Quantity: 1}}},
			want:     0,
		},
		{
			name: "zero price degrades to zero",
			position: models.Position{ID: 5, Orders: []models.Order{{
				Status: models.OrderStatusFilled, IsOpenPosition: true, Quantity: 1,
			}}},
			want: 0,
		},
		{
			name: "later adjustment orders do not change initial premium",
			position: models.Position{ID: 6, Orders: []models.Order{
				{Status: models.OrderStatusFilled, IsOpenPosition: true, Price: 2.85, Quantity: 1, FilledQuantity: 1},
				{Status: models.OrderStatusFilled, Price: -1.20, Quantity: 1, FilledQuantity: 1},
			}},
			want: 285,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := a.InitialPremium(&tt.position)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Fatalf("InitialPremium() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNetPositionDetails(t *testing.T) {
	a := NewAccountant(quietLogger())

	order := func(side models.OrderSide, price, qty float64) models.Order {
		return models.Order{
			Status: models.OrderStatusFilled, Side: side,
			Price: price, Quantity: qty, FilledQuantity: qty,
		}
	}

	t.Run("pure sells are net short", func(t *testing.T) {
		p := models.Position{Orders: []models.Order{order(models.SideSell, 2.85, 1)}}
		net := a.NetPositionDetails(&p)
		if !net.IsShort() || net.IsClosed() {
			t.Fatalf("expected short open position, got %+v", net)
		}
		if net.NetContracts != 1 {
			t.Fatalf("NetContracts = %v, want 1", net.NetContracts)
		}
		if math.Abs(net.CostBasis-285) > 1e-9 {
			t.Fatalf("CostBasis = %v, want 285", net.CostBasis)
		}
	})

	t.Run("pure buys are net long", func(t *testing.T) {
		p := models.Position{Orders: []models.Order{order(models.SideBuy, 7.00, 2)}}
		net := a.NetPositionDetails(&p)
		if !net.IsLong() {
			t.Fatalf("expected long position, got %+v", net)
		}
		if net.NetContracts != -2 {
			t.Fatalf("NetContracts = %v, want -2", net.NetContracts)
		}
		if math.Abs(net.CostBasis-(-1400)) > 1e-9 {
			t.Fatalf("CostBasis = %v, want -1400", net.CostBasis)
		}
	})

	t.Run("offsetting fills close the position", func(t *testing.T) {
		p := models.Position{Orders: []models.Order{
			order(models.SideSell, 2.85, 1),
			order(models.SideBuy, 1.10, 1),
		}}
		net := a.NetPositionDetails(&p)
		if !net.IsClosed() {
			t.Fatalf("expected closed position, got NetContracts=%v", net.NetContracts)
		}
	})

	t.Run("unclassified orders take sell semantics", func(t *testing.T) {
		p := models.Position{Orders: []models.Order{{
			Status: models.OrderStatusFilled, Side: models.SideUnknown,
			OrderType: "MYSTERY", Price: 1.00, Quantity: 2, FilledQuantity: 2,
		}}}
		net := a.NetPositionDetails(&p)
		if net.NetContracts != 2 {
			t.Fatalf("NetContracts = %v, want 2 (sell semantics)", net.NetContracts)
		}
	})

	t.Run("unfilled orders are excluded", func(t *testing.T) {
		p := models.Position{Orders: []models.Order{
			order(models.SideSell, 2.85, 1),
			{Status: models.OrderStatusWorking, Side: models.SideBuy, Price: 0.50, Quantity: 1},
		}}
		net := a.NetPositionDetails(&p)
		if net.NetContracts != 1 || len(net.Orders) != 1 {
			t.Fatalf("expected only the filled sell to count, got %+v", net)
		}
	})
}
