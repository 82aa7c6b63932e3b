package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sysu-ecnc-dev/field-dispatch/backend/internal/domain"
)

const (
	DefaultSpeedKmh = 40.0
	earthRadiusKm   = 6371.0
)

// TravelEstimator 估算两点之间的车程，单位为分钟
type TravelEstimator interface {
	EstimateTravelMinutes(ctx context.Context, from, to domain.GeoPoint) (float64, error)
}

// HaversineKm 返回两点之间的大圆距离
func HaversineKm(a, b domain.GeoPoint) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}

// StraightLineEstimator 假设沿大圆匀速行驶，再乘以 DetourFactor 近似实际路网
type StraightLineEstimator struct {
	SpeedKmh     float64
	DetourFactor float64
}

func NewStraightLineEstimator(speedKmh, detourFactor float64) *StraightLineEstimator {
	if speedKmh <= 0 {
		speedKmh = DefaultSpeedKmh
	}
	if detourFactor < 1 {
		detourFactor = 1
	}
	return &StraightLineEstimator{SpeedKmh: speedKmh, DetourFactor: detourFactor}
}

func (e *StraightLineEstimator) EstimateTravelMinutes(_ context.Context, from, to domain.GeoPoint) (float64, error) {
	km := HaversineKm(from, to) * e.DetourFactor
	return km / e.SpeedKmh * 60, nil
}

// RoutingEstimator 向兼容 OSRM 的路线服务查询两点之间的驾车时间
type RoutingEstimator struct {
	client  *resty.Client
	profile string
}

type osrmRouteResponse struct {
	Code   string `json:"code"`
	Routes []struct {
		Duration float64 `json:"duration"` // 秒
		Distance float64 `json:"distance"` // 米
	} `json:"routes"`
}

func NewRoutingEstimator(baseURL string, timeout time.Duration) *RoutingEstimator {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	return &RoutingEstimator{client: client, profile: "driving"}
}

func (e *RoutingEstimator) EstimateTravelMinutes(ctx context.Context, from, to domain.GeoPoint) (float64, error) {
	var out osrmRouteResponse

	path := fmt.Sprintf("/route/v1/%s/%f,%f;%f,%f", e.profile, from.Lng, from.Lat, to.Lng, to.Lat)
	resp, err := e.client.R().
		SetContext(ctx).
		SetQueryParam("overview", "false").
		SetResult(&out).
		Get(path)
	if err != nil {
		return 0, fmt.Errorf("routing request: %w", err)
	}
	if resp.IsError() {
		return 0, fmt.Errorf("路线服务返回 %s", resp.Status())
	}
	if out.Code != "Ok" || len(out.Routes) == 0 {
		return 0, fmt.Errorf("路线服务没有找到路线（code %q）", out.Code)
	}

	return out.Routes[0].Duration / 60, nil
}

// FallbackEstimator 优先使用 Primary，失败时改用 Secondary
type FallbackEstimator struct {
	Primary   TravelEstimator
	Secondary TravelEstimator
}

func (e *FallbackEstimator) EstimateTravelMinutes(ctx context.Context, from, to domain.GeoPoint) (float64, error) {
	minutes, err := e.Primary.EstimateTravelMinutes(ctx, from, to)
	if err == nil {
		return minutes, nil
	}
	if errors.Is(err, context.Canceled) {
		return 0, err
	}

	minutes, secondaryErr := e.Secondary.EstimateTravelMinutes(ctx, from, to)
	if secondaryErr != nil {
		return 0, errors.Join(err, secondaryErr)
	}
	return minutes, nil
}
