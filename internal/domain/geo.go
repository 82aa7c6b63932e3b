package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
)

var pointPattern = regexp.MustCompile(`^\s*(?i:POINT)\s*\(\s*(\S+)\s+(\S+)\s*\)\s*$`)

// GeoPoint 是 WGS84 经纬度坐标，序列化为 WKT 文本 "POINT(<lng> <lat>)"
type GeoPoint struct {
	Lng float64
	Lat float64
}

func ParseGeoPoint(s string) (GeoPoint, error) {
	m := pointPattern.FindStringSubmatch(s)
	if m == nil {
		return GeoPoint{}, NewValidationError("locationPoint", "坐标 %q 格式错误，应为 POINT(<经度> <纬度>)", s)
	}
	lng, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return GeoPoint{}, NewValidationError("locationPoint", "经度 %q 无效", m[1])
	}
	lat, err := strconv.ParseFloat(m[2], 64)
	if err != nil {
		return GeoPoint{}, NewValidationError("locationPoint", "纬度 %q 无效", m[2])
	}
	p := GeoPoint{Lng: lng, Lat: lat}
	if err := p.Validate(); err != nil {
		return GeoPoint{}, err
	}
	return p, nil
}

func (p GeoPoint) Validate() error {
	if math.IsNaN(p.Lng) || p.Lng < -180 || p.Lng > 180 {
		return NewValidationError("locationPoint", "经度 %v 超出范围 [-180, 180]", p.Lng)
	}
	if math.IsNaN(p.Lat) || p.Lat < -90 || p.Lat > 90 {
		return NewValidationError("locationPoint", "纬度 %v 超出范围 [-90, 90]", p.Lat)
	}
	return nil
}

func (p GeoPoint) String() string {
	return fmt.Sprintf("POINT(%s %s)",
		strconv.FormatFloat(p.Lng, 'f', -1, 64),
		strconv.FormatFloat(p.Lat, 'f', -1, 64))
}

func (p GeoPoint) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

func (p *GeoPoint) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return NewValidationError("locationPoint", "坐标必须是字符串")
	}
	parsed, err := ParseGeoPoint(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
