// Package media преобразования аудио G.711 для моста.
//
// Asterisk отдает в канал внешнего медиа μ-law или A-law по 160 байт на
// 20 мс. Распознавание принимает только μ-law, поэтому A-law перекодируется
// табличным преобразованием на каждом пакете. Синтезированная речь приходит
// как PCM16 24 кГц и приводится к μ-law 8 кГц через PCM16ToMulaw8k.
package media
