package common

const PAGE_SIZE = 16384
const PAGE_FILE_HEADER_SIZE = 38
const PAGE_FILE_TRAILER_SIZE = 8

//最新分配，还未使用
const FILE_PAGE_TYPE_ALLOCATED = 0x0000

const FILE_PAGE_INODE = 0x0003

//Insert Buffer空闲列表页面
const FILE_PAGE_IBUF_FREE_LIST = 0x0004

//Insert Buffer位图页面
const FILE_PAGE_IBUF_BITMAP = 0x0005

const FILE_PAGE_TYPE_SYS = 0x0006

const FILE_PAGE_TYPE_FSP_HDR = 0x0008

const FILE_PAGE_TYPE_XDES = 0x0009

//索引页，也就是数据页面
const FILE_PAGE_INDEX = 0x45BF

//Insert Buffer B+树节点页面
const FILE_PAGE_IBUF_INDEX = 0x45BE

//表空间0为系统表空间，Insert Buffer树固定存放在其中
const IBUF_SPACE_ID = 0

//Insert Buffer头页面，仅保存ibuf树段的fseg header
const IBUF_HEADER_PAGE_NO = 3

//Insert Buffer B+树根页面
const IBUF_TREE_ROOT_PAGE_NO = 4

//每个表空间内，页号 mod page_size == FSP_IBUF_BITMAP_OFFSET 的页面为位图页
const FSP_IBUF_BITMAP_OFFSET = 1

//位图中每个页面占4个bit
//IBUF_BITMAP_FREE	2	使用2个bit来描述page的空闲空间范围：0（0 bytes）、1（512 bytes）、2（1024 bytes）、3（2048 bytes）
//IBUF_BITMAP_BUFFERED	1	是否有ibuf操作缓存
//IBUF_BITMAP_IBUF	1	该Page本身是否是Ibuf Btree的节点
const IBUF_BITMAP_FREE = 0
const IBUF_BITMAP_BUFFERED = 2
const IBUF_BITMAP_IBUF = 3

//空闲空间等级对应的字节数下限
const BYTES_0 = 0
const BYTES_512 = 1
const BYTES_1024 = 2
const BYTES_2048 = 3

//页面层级：0为普通数据页，2为ibuf树节点页，3为ibuf位图页
const IBUF_LEVEL_ORDINARY = 0
const IBUF_LEVEL_TREE = 2
const IBUF_LEVEL_BITMAP = 3
