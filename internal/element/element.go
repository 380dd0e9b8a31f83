// Package element 定义白板上的绘制元素及其校验规则
package element

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Kind 元素类型
type Kind string

const (
	Path      Kind = "path"
	Line      Kind = "line"
	Rectangle Kind = "rectangle"
	Circle    Kind = "circle"
	Triangle  Kind = "triangle"
)

// KindMap 记录所有合法的元素类型
var KindMap = map[Kind]string{
	Path:      "PATH",
	Line:      "LINE",
	Rectangle: "RECTANGLE",
	Circle:    "CIRCLE",
	Triangle:  "TRIANGLE",
}

func (k Kind) String() string {
	if name, ok := KindMap[k]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(%s)", string(k))
}

func (k Kind) Valid() bool {
	_, ok := KindMap[k]
	return ok
}

const ToolEraser = "eraser"

const (
	MaxLineWidth     = 200.0
	DefaultMaxPoints = 10000
)

var (
	ErrUnknownKind     = errors.New("unknown element type")
	ErrMissingTool     = errors.New("element tool is required")
	ErrMissingColor    = errors.New("element color is required")
	ErrInvalidWidth    = errors.New("line width out of range")
	ErrPointCount      = errors.New("invalid point count")
	ErrNonFinite       = errors.New("coordinate is not a finite number")
	ErrNegativeRadius  = errors.New("radius must not be negative")
	ErrMissingGeometry = errors.New("element geometry is incomplete")
)

type Point struct {
	X float64 `json:"x" bson:"x"`
	Y float64 `json:"y" bson:"y"`
}

// DrawingElement 一笔完整的绘制; 字段按类型取用
type DrawingElement struct {
	Type      Kind    `json:"type" bson:"type"`
	Tool      string  `json:"tool" bson:"tool"`
	Color     string  `json:"color" bson:"color"`
	LineWidth float64 `json:"lineWidth" bson:"line_width"`
	Eraser    bool    `json:"eraser,omitempty" bson:"eraser,omitempty"`

	Points []Point `json:"points,omitempty" bson:"points,omitempty"`

	StartX *float64 `json:"startX,omitempty" bson:"start_x,omitempty"`
	StartY *float64 `json:"startY,omitempty" bson:"start_y,omitempty"`
	EndX   *float64 `json:"endX,omitempty" bson:"end_x,omitempty"`
	EndY   *float64 `json:"endY,omitempty" bson:"end_y,omitempty"`
	Width  *float64 `json:"width,omitempty" bson:"width,omitempty"`
	Height *float64 `json:"height,omitempty" bson:"height,omitempty"`

	X      *float64 `json:"x,omitempty" bson:"x,omitempty"`
	Y      *float64 `json:"y,omitempty" bson:"y,omitempty"`
	Radius *float64 `json:"radius,omitempty" bson:"radius,omitempty"`
}

// Committed 已提交的元素, 提交后不可修改
type Committed struct {
	Seq         uint64         `json:"seq" bson:"seq"`
	Author      string         `json:"author" bson:"author"`
	CommitID    string         `json:"commit_id,omitempty" bson:"commit_id,omitempty"`
	CommittedAt time.Time      `json:"committed_at" bson:"committed_at"`
	Element     DrawingElement `json:"element" bson:"element"`
}

type pointRule struct {
	min, max int
}

// pointRules 每种类型允许的点数, max 为 0 时使用上限配置
var pointRules = map[Kind]pointRule{
	Path:      {min: 1},
	Triangle:  {min: 3, max: 3},
	Line:      {},
	Rectangle: {},
	Circle:    {},
}

// Normalize 根据工具补全派生字段
func (e *DrawingElement) Normalize() {
	if e.Tool == ToolEraser {
		e.Eraser = true
	}
}

// Validate 校验元素结构, maxPoints <= 0 时使用默认上限
func (e *DrawingElement) Validate(maxPoints int) error {
	if maxPoints <= 0 {
		maxPoints = DefaultMaxPoints
	}
	if !e.Type.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownKind, string(e.Type))
	}
	if e.Tool == "" {
		return ErrMissingTool
	}
	if e.Color == "" {
		return ErrMissingColor
	}
	if !finite(e.LineWidth) || e.LineWidth <= 0 || e.LineWidth > MaxLineWidth {
		return fmt.Errorf("%w: %v", ErrInvalidWidth, e.LineWidth)
	}

	rule := pointRules[e.Type]
	limit := rule.max
	if limit == 0 {
		limit = maxPoints
	}
	if rule.min == 0 && rule.max == 0 {
		limit = 0
		if len(e.Points) > 0 {
			return fmt.Errorf("%w: %s takes no points", ErrPointCount, e.Type)
		}
	}
	if len(e.Points) < rule.min || len(e.Points) > limit {
		return fmt.Errorf("%w: %s has %d points", ErrPointCount, e.Type, len(e.Points))
	}
	for _, p := range e.Points {
		if !finite(p.X) || !finite(p.Y) {
			return ErrNonFinite
		}
	}

	switch e.Type {
	case Line:
		if err := requireAll(e.StartX, e.StartY, e.EndX, e.EndY); err != nil {
			return err
		}
	case Rectangle:
		if err := requireAll(e.StartX, e.StartY, e.Width, e.Height); err != nil {
			return err
		}
	case Circle:
		if err := requireAll(e.X, e.Y, e.Radius); err != nil {
			return err
		}
		if *e.Radius < 0 {
			return ErrNegativeRadius
		}
	}
	return nil
}

func requireAll(values ...*float64) error {
	for _, v := range values {
		if v == nil {
			return ErrMissingGeometry
		}
		if !finite(*v) {
			return ErrNonFinite
		}
	}
	return nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// Clone 深拷贝, 保证历史中的元素不与调用方共享内存
func (e DrawingElement) Clone() DrawingElement {
	out := e
	if e.Points != nil {
		out.Points = make([]Point, len(e.Points))
		copy(out.Points, e.Points)
	}
	out.StartX = cloneFloat(e.StartX)
	out.StartY = cloneFloat(e.StartY)
	out.EndX = cloneFloat(e.EndX)
	out.EndY = cloneFloat(e.EndY)
	out.Width = cloneFloat(e.Width)
	out.Height = cloneFloat(e.Height)
	out.X = cloneFloat(e.X)
	out.Y = cloneFloat(e.Y)
	out.Radius = cloneFloat(e.Radius)
	return out
}

func cloneFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}

func (c Committed) Clone() Committed {
	c.Element = c.Element.Clone()
	return c
}

// CloneAll 复制一组已提交元素
func CloneAll(elements []Committed) []Committed {
	out := make([]Committed, len(elements))
	for i, e := range elements {
		out[i] = e.Clone()
	}
	return out
}

// MaxSeq 返回一组元素中最大的序号
func MaxSeq(elements []Committed) uint64 {
	var seq uint64
	for _, e := range elements {
		if e.Seq > seq {
			seq = e.Seq
		}
	}
	return seq
}

// F 构造可选坐标字段
func F(v float64) *float64 {
	return &v
}
