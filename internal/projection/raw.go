package projection

import "math"

// 原始投影：输入弧度，输出单位球平面坐标（y 向北为正）
type rawProjection interface {
	forward(lambda, phi float64) (x, y float64, ok bool)
}

type rawInverter interface {
	invert(x, y float64) (lambda, phi float64, ok bool)
}

// Mercator：等角，适合局部形状；两极无定义
type mercatorRaw struct{}

func (mercatorRaw) forward(lambda, phi float64) (float64, float64, bool) {
	if math.Abs(phi) >= math.Pi/2 {
		return 0, 0, false
	}
	// 不做 Web Mercator 的 ±85.05° 截断，纬度越接近极点 y 越大
	return lambda, math.Log(math.Tan(math.Pi/4 + phi/2)), true
}

func (mercatorRaw) invert(x, y float64) (float64, float64, bool) {
	return x, 2*math.Atan(math.Exp(y)) - math.Pi/2, true
}

// Natural Earth I：多项式伪圆柱投影，反算用牛顿迭代
type naturalEarth1Raw struct{}

func (naturalEarth1Raw) forward(lambda, phi float64) (float64, float64, bool) {
	phi2 := phi * phi
	phi4 := phi2 * phi2
	x := lambda * (0.8707 - 0.131979*phi2 + phi4*(-0.013791+phi4*(0.003971*phi2-0.001529*phi4)))
	y := phi * (1.007226 + phi2*(0.015085+phi4*(-0.044475+0.028874*phi2-0.005916*phi4)))
	return x, y, true
}

func (naturalEarth1Raw) invert(x, y float64) (float64, float64, bool) {
	const epsilon = 1e-6
	phi := y
	for i := 25; i > 0; i-- {
		phi2 := phi * phi
		phi4 := phi2 * phi2
		delta := (phi*(1.007226+phi2*(0.015085+phi4*(-0.044475+0.028874*phi2-0.005916*phi4))) - y) /
			(1.007226 + phi2*(0.015085*3+phi4*(-0.044475*7+0.028874*9*phi2-0.005916*11*phi4)))
		phi -= delta
		if math.Abs(delta) <= epsilon {
			break
		}
	}
	phi2 := phi * phi
	lambda := x / (0.8707 + phi2*(-0.131979+phi2*(-0.013791+phi2*phi2*phi2*(0.003971-0.001529*phi2))))
	return lambda, phi, true
}

// 等距圆柱：经纬度线性映射
type equirectangularRaw struct{}

func (equirectangularRaw) forward(lambda, phi float64) (float64, float64, bool) {
	return lambda, phi, true
}

func (equirectangularRaw) invert(x, y float64) (float64, float64, bool) {
	return x, y, true
}

// 正射：半球透视，背面点无前向结果，单位圆外无反算结果
type orthographicRaw struct{}

func (orthographicRaw) forward(lambda, phi float64) (float64, float64, bool) {
	cosPhi := math.Cos(phi)
	if cosPhi*math.Cos(lambda) < 0 {
		return 0, 0, false
	}
	return cosPhi * math.Sin(lambda), math.Sin(phi), true
}

func (orthographicRaw) invert(x, y float64) (float64, float64, bool) {
	z := math.Hypot(x, y)
	if z > 1 {
		return 0, 0, false
	}
	c := math.Asin(z)
	sc, cc := math.Sin(c), math.Cos(c)
	phi := 0.0
	if z != 0 {
		phi = math.Asin(y * sc / z)
	}
	return math.Atan2(x*sc, z*cc), phi, true
}
